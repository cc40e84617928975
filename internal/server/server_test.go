package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/medgraph/internal/queue"
	mid "github.com/OFFIS-RIT/medgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/pkg/agent"
	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/graph"
	"github.com/OFFIS-RIT/medgraph/pkg/store/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	queries []string
	err     error
}

func (f *fakeAgent) Run(_ context.Context, q string) (agent.Result, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return agent.Result{}, f.err
	}
	if strings.TrimSpace(q) == "" {
		return agent.Result{}, agent.ErrEmptyQuery
	}
	return agent.Result{SessionID: "s1", Query: q, Answer: "Metformin [VECTOR]."}, nil
}

type fakeQueue struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakeQueue) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, msg.Body)
	return nil
}

type fakeBucket struct {
	files   map[string]string
	deleted []string
}

func (f *fakeBucket) DeleteFolder(_ context.Context, prefix string) error {
	f.deleted = append(f.deleted, prefix)
	for k := range f.files {
		if strings.HasPrefix(k, prefix) {
			delete(f.files, k)
		}
	}
	return nil
}

func (f *fakeBucket) Name() string { return "corpus" }

func (f *fakeBucket) PutFile(_ context.Context, prefix string, name string, file io.Reader) (string, error) {
	b, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	key := prefix + name
	f.files[key] = string(b)
	return key, nil
}

type fakeLocks map[string]string

func (f fakeLocks) Holder(_ context.Context, key string) (string, error) { return f[key], nil }

var testSecret = []byte("test-secret")

func hmacKeyfunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("unexpected signing method")
	}
	return testSecret, nil
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func newTestApp(t *testing.T) (*mid.App, *fakeAgent, *fakeQueue, *fakeBucket) {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.UpsertTriplets(ctx, []common.Triplet{
		{Head: "Metformin", HeadType: "Drug", Relation: "TREATS", Tail: "Type 2 Diabetes", TailType: "Disease"},
	}))
	require.NoError(t, s.CreateCommunityIndex(ctx))

	ag := &fakeAgent{}
	q := &fakeQueue{}
	b := &fakeBucket{files: map[string]string{}}
	return &mid.App{
		Agent:        ag,
		Store:        s,
		Queue:        q,
		Bucket:       b,
		Locks:        fakeLocks{graph.LockIngest: "medgraph:abc"},
		Keyfunc:      hmacKeyfunc,
		MasterAPIKey: "master-key",
	}, ag, q, b
}

func do(t *testing.T, a *mid.App, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	New(a).ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, token, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHealthIsPublic(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	rec := do(t, a, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAuth(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "missing", token: "", want: http.StatusUnauthorized},
		{name: "garbage", token: "not-a-jwt", want: http.StatusUnauthorized},
		{name: "master key", token: "master-key", want: http.StatusOK},
		{name: "valid jwt", token: signToken(t, jwt.MapClaims{"id": "u1", "exp": time.Now().Add(time.Hour).Unix()}), want: http.StatusOK},
		{name: "expired jwt", token: signToken(t, jwt.MapClaims{"id": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), want: http.StatusUnauthorized},
		{name: "jwt without user", token: signToken(t, jwt.MapClaims{"role": "user"}), want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a, jsonRequest(http.MethodPost, "/api/query", tt.token, `{"query":"What treats diabetes?"}`))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAuthDisabledWithoutCredentials(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	a.MasterAPIKey = ""
	a.Keyfunc = nil
	rec := do(t, a, jsonRequest(http.MethodPost, "/api/query", "", `{"query":"q"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryHandler(t *testing.T) {
	a, ag, _, _ := newTestApp(t)

	rec := do(t, a, jsonRequest(http.MethodPost, "/api/query", "master-key", `{"query":"What treats diabetes?"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Metformin [VECTOR].", res["answer"])
	assert.Equal(t, "s1", res["session_id"])
	assert.Equal(t, []string{"What treats diabetes?"}, ag.queries)

	rec = do(t, a, jsonRequest(http.MethodPost, "/api/query", "master-key", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, a, jsonRequest(http.MethodPost, "/api/query", "master-key", `{"query":"   "}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ag.err = errors.New("llm down")
	rec = do(t, a, jsonRequest(http.MethodPost, "/api/query", "master-key", `{"query":"q"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "llm down")
}

func multipartRequest(t *testing.T, token string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestIngestHandler(t *testing.T) {
	a, _, q, b := newTestApp(t)

	rec := do(t, a, multipartRequest(t, "master-key", map[string]string{"metformin.md": "# Metformin\n\nText."}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Equal(t, []string{queue.IngestQueue}, q.keys)
	job, err := queue.DecodeIngestJob(q.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, "corpus", job.Bucket)
	require.Len(t, job.Keys, 1)
	assert.True(t, strings.HasPrefix(job.Keys[0], "uploads/"+job.JobID+"/"))
	assert.Equal(t, "# Metformin\n\nText.", b.files[job.Keys[0]])
	assert.Empty(t, b.deleted)
}

func TestIngestHandler_RemovesUploadsWhenEnqueueFails(t *testing.T) {
	a, _, q, b := newTestApp(t)
	q.err = errors.New("channel closed")

	rec := do(t, a, multipartRequest(t, "master-key", map[string]string{"a.md": "# A"}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, b.deleted, 1)
	assert.True(t, strings.HasPrefix(b.deleted[0], "uploads/"))
	assert.Empty(t, b.files)
}

func TestIngestHandler_Rejects(t *testing.T) {
	a, _, q, _ := newTestApp(t)
	userToken := signToken(t, jwt.MapClaims{"id": "u1", "role": "user"})

	rec := do(t, a, multipartRequest(t, userToken, map[string]string{"a.md": "# A"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, a, multipartRequest(t, "master-key", map[string]string{"paper.pdf": "%PDF"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, a, multipartRequest(t, "master-key", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.Bucket = nil
	rec = do(t, a, multipartRequest(t, "master-key", map[string]string{"a.md": "# A"}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, q.keys)
}

func TestCommunities(t *testing.T) {
	a, _, q, _ := newTestApp(t)

	rec := do(t, a, jsonRequest(http.MethodGet, "/api/communities?limit=5", "master-key", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Communities []common.CommunitySummary `json:"communities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Communities, 1)
	assert.ElementsMatch(t, []string{"Metformin", "Type 2 Diabetes"}, res.Communities[0].Entities)

	rec = do(t, a, jsonRequest(http.MethodGet, "/api/communities?ids=x", "master-key", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, a, jsonRequest(http.MethodPost, "/api/communities/rebuild", "master-key", ""))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{queue.CommunityQueue}, q.keys)
}

func TestStatus(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	rec := do(t, a, jsonRequest(http.MethodGet, "/api/status", "master-key", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Counts struct {
			Entities int64 `json:"entities"`
		} `json:"counts"`
		Locks map[string]string `json:"locks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(2), res.Counts.Entities)
	assert.Equal(t, "medgraph:abc", res.Locks[graph.LockIngest])
	assert.Equal(t, "", res.Locks[graph.LockCommunities])
}
