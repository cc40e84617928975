// Package config assembles the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/medgraph/internal/util"

	"github.com/go-playground/validator"
)

const (
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
	BackendMemory   = "memory"

	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"
)

type AI struct {
	Adapter         string `validate:"oneof=openai ollama"`
	ChatModel       string `validate:"required"`
	ExtractionModel string
	EmbedModel      string `validate:"required"`
	EmbedDim        int    `validate:"gt=0"`

	ChatURL  string
	ChatKey  string
	EmbedURL string
	EmbedKey string

	ParallelRequests int `validate:"gt=0"`
	Timeout          time.Duration
}

type Neo4j struct {
	URI      string
	User     string
	Password string
	Database string
}

type RabbitMQ struct {
	User     string
	Password string
	Host     string
	Port     string
}

// URL is empty when no host is configured.
func (r RabbitMQ) URL() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}

type S3 struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

func (s S3) Enabled() bool { return s.Bucket != "" }

type Auth struct {
	MasterAPIKey string
	URL          string
}

type Config struct {
	Debug     bool
	LogFormat string `validate:"oneof=text json logfmt"`

	StoreBackend string `validate:"oneof=postgres neo4j memory"`
	DatabaseURL  string
	Neo4j        Neo4j

	AI AI

	ExtractionParallelism int `validate:"gt=0"`
	ChunkMaxTokens        int `validate:"gte=0"`
	LockTTL               time.Duration

	RabbitMQ RabbitMQ
	S3       S3
	Auth     Auth
	Port     string `validate:"required"`
}

// Load reads the configuration from the environment. A .env file is
// loaded first when present. Missing credentials for the selected backend
// and invalid values are reported as one error.
func Load() (Config, error) {
	util.LoadEnv()
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv reads the configuration without validating it.
func FromEnv() Config {
	return Config{
		Debug:     util.GetEnvBool("DEBUG", false),
		LogFormat: util.GetEnvString("LOG_FORMAT", "text"),

		StoreBackend: strings.ToLower(util.GetEnvString("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:  util.GetEnv("DATABASE_URL"),
		Neo4j: Neo4j{
			URI:      util.GetEnv("NEO4J_URI"),
			User:     util.GetEnvString("NEO4J_USER", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		},

		AI: AI{
			Adapter:         strings.ToLower(util.GetEnvString("AI_ADAPTER", AdapterOpenAI)),
			ChatModel:       util.GetEnv("AI_CHAT_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			EmbedModel:      util.GetEnv("AI_EMBED_MODEL"),
			EmbedDim:        util.GetEnvInt("AI_EMBED_DIM", 768),

			ChatURL:  util.GetEnv("AI_CHAT_URL"),
			ChatKey:  util.GetEnv("AI_CHAT_KEY"),
			EmbedURL: util.GetEnv("AI_EMBED_URL"),
			EmbedKey: util.GetEnv("AI_EMBED_KEY"),

			ParallelRequests: util.GetEnvInt("AI_PARALLEL_REQ", 15),
			Timeout:          util.GetEnvDuration("AI_TIMEOUT", 2*time.Minute),
		},

		ExtractionParallelism: util.GetEnvInt("EXTRACT_PARALLELISM", 4),
		ChunkMaxTokens:        util.GetEnvInt("CHUNK_MAX_TOKENS", 512),
		LockTTL:               util.GetEnvDuration("LOCK_TTL", 5*time.Minute),

		RabbitMQ: RabbitMQ{
			User:     util.GetEnv("RABBITMQ_USER"),
			Password: util.GetEnv("RABBITMQ_PASSWORD"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		S3: S3{
			Region:    util.GetEnv("AWS_REGION"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
		Auth: Auth{
			MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
			URL:          util.GetEnv("AUTH_URL"),
		},
		Port: util.GetEnvString("PORT", "8080"),
	}
}

// Validate checks struct tags and the backend specific requirements.
func (c Config) Validate() error {
	var errs []error
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("invalid %s: failed %q check", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendNeo4j:
		if c.Neo4j.URI == "" || c.Neo4j.Password == "" {
			errs = append(errs, errors.New("NEO4J_URI and NEO4J_PASSWORD are required for the neo4j backend"))
		}
	}
	if c.AI.Adapter == AdapterOpenAI && c.AI.ChatURL == "" && c.AI.ChatKey == "" {
		errs = append(errs, errors.New("AI_CHAT_KEY or AI_CHAT_URL is required for the openai adapter"))
	}
	if c.AI.Adapter == AdapterOllama && c.AI.ChatURL == "" {
		errs = append(errs, errors.New("AI_CHAT_URL is required for the ollama adapter"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ExtractionModelOrChat falls back to the chat model.
func (a AI) ExtractionModelOrChat() string {
	if a.ExtractionModel != "" {
		return a.ExtractionModel
	}
	return a.ChatModel
}
