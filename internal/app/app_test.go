package app

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/medgraph/internal/config"
	"github.com/OFFIS-RIT/medgraph/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func memoryConfig() config.Config {
	return config.Config{
		LogFormat:    "text",
		StoreBackend: config.BackendMemory,
		AI: config.AI{
			Adapter:          config.AdapterOpenAI,
			ChatModel:        "gpt-4o-mini",
			EmbedModel:       "text-embedding-3-small",
			EmbedDim:         768,
			ChatKey:          "sk-test",
			ParallelRequests: 2,
		},
		ExtractionParallelism: 2,
		ChunkMaxTokens:        512,
		Port:                  "8080",
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	d, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer d.Close()

	assert.IsType(t, &memory.GraphStorage{}, d.Store)
	assert.Nil(t, d.Pool)
	assert.Nil(t, d.Locker())

	b, err := d.NewBuilder()
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.NotNil(t, d.NewOrchestrator(nil))
}

func TestNewAIClient_Ollama(t *testing.T) {
	cfg := memoryConfig().AI
	cfg.Adapter = config.AdapterOllama
	cfg.ChatURL = "http://localhost:11434"

	client, err := NewAIClient(cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestInitTracing_ForwardsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp, shutdown := InitTracing(rec)
	defer shutdown()

	_, span := tp.Tracer("test").Start(context.Background(), "work")
	span.SetStatus(codes.Error, "boom")
	span.End()

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, "work", rec.Ended()[0].Name())
}
