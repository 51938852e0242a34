package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"embed-service/internal/app"
	"embed-service/internal/config"
	"embed-service/internal/embedapi"
	"embed-service/internal/embeddings"
	"embed-service/internal/logger"
	"embed-service/internal/queue"
)

const testModel = "sentence-transformers/all-MiniLM-L6-v2"

// hashProvider derives a deterministic 384-dim vector from each text's bytes.
type hashProvider struct{}

func (hashProvider) Model() string { return testModel }

func (hashProvider) Encode(_ context.Context, texts []string, normalize bool) ([]embeddings.Vector, error) {
	out := make([]embeddings.Vector, len(texts))
	for i, text := range texts {
		v := make(embeddings.Vector, 384)
		for j := range v {
			v[j] = float32(math.Sin(float64(j + 1)))
		}
		for k, b := range []byte(text) {
			v[(k*31)%len(v)] += float32(b) / 16
		}
		if normalize {
			v = embeddings.Normalize(v)
		}
		out[i] = v
	}
	return out, nil
}

func (hashProvider) Close() error { return nil }

func newTestDeps(p embeddings.Provider) app.Deps {
	return app.Deps{
		Provider: p,
		Config: config.Config{
			MaxBodySize: 1024 * 1024, // 1MB for tests
			MaxTexts:    16,
		},
		Log: logger.Discard(),
	}
}

func postEmbed(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/embed", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEmbed(t *testing.T, rec *httptest.ResponseRecorder) embedapi.EmbedResponse {
	t.Helper()
	var resp embedapi.EmbedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealthHandler(t *testing.T) {
	r := newRouter(newTestDeps(hashProvider{}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","model":"`+testModel+`"}`, rec.Body.String())
}

func TestEmbedHandler(t *testing.T) {
	r := newRouter(newTestDeps(hashProvider{}))

	t.Run("empty texts", func(t *testing.T) {
		rec := postEmbed(t, r, `{"texts": []}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"model":"`+testModel+`","dim":0,"vectors":[]}`, rec.Body.String())
	})

	t.Run("single text is a unit vector", func(t *testing.T) {
		rec := postEmbed(t, r, `{"texts": ["hello"]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeEmbed(t, rec)

		assert.Equal(t, testModel, resp.Model)
		assert.Equal(t, 384, resp.Dim)
		require.Len(t, resp.Vectors, 1)
		require.Len(t, resp.Vectors[0], resp.Dim)
		for _, x := range resp.Vectors[0] {
			assert.False(t, math.IsNaN(float64(x)) || math.IsInf(float64(x), 0))
		}
		assert.InDelta(t, 1.0, embeddings.Norm(resp.Vectors[0]), 1e-4)
	})

	t.Run("identical texts give identical vectors", func(t *testing.T) {
		resp := decodeEmbed(t, postEmbed(t, r, `{"texts": ["a", "a"]}`))
		require.Len(t, resp.Vectors, 2)
		assert.Equal(t, resp.Vectors[0], resp.Vectors[1])
		assert.InDelta(t, 1.0, embeddings.CosineSimilarity(resp.Vectors[0], resp.Vectors[1]), 1e-5)
	})

	t.Run("different texts give different directions", func(t *testing.T) {
		resp := decodeEmbed(t, postEmbed(t, r, `{"texts": ["the cat sat", "stock prices fell"]}`))
		require.Len(t, resp.Vectors, 2)
		assert.Less(t, embeddings.CosineSimilarity(resp.Vectors[0], resp.Vectors[1]), float32(0.9999))
	})

	t.Run("order and shape preserved", func(t *testing.T) {
		texts := []string{"first", "second", "third", "fourth"}
		body, _ := json.Marshal(map[string]any{"texts": texts})
		resp := decodeEmbed(t, postEmbed(t, r, string(body)))

		require.Len(t, resp.Vectors, len(texts))
		for i, text := range texts {
			assert.Len(t, resp.Vectors[i], resp.Dim)
			single := decodeEmbed(t, postEmbed(t, r, `{"texts": ["`+text+`"]}`))
			assert.Equal(t, single.Vectors[0], resp.Vectors[i], "vector %d out of order", i)
		}
	})

	t.Run("dim constant across calls", func(t *testing.T) {
		a := decodeEmbed(t, postEmbed(t, r, `{"texts": ["short"]}`))
		b := decodeEmbed(t, postEmbed(t, r, `{"texts": ["a much longer input sentence than before"]}`))
		assert.Equal(t, a.Dim, b.Dim)
	})
}

func TestEmbedHandlerRejectsMalformedBodies(t *testing.T) {
	r := newRouter(newTestDeps(hashProvider{}))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"texts not a list", `{"texts": "not-a-list"}`, http.StatusBadRequest, "texts must be an array of strings"},
		{"non-string element", `{"texts": [123]}`, http.StatusBadRequest, "texts must contain only strings"},
		{"null element", `{"texts": ["a", null]}`, http.StatusBadRequest, "texts must contain only strings"},
		{"missing texts", `{}`, http.StatusBadRequest, "texts is required"},
		{"invalid JSON payload", `{invalid json}`, http.StatusBadRequest, "request body is not valid JSON"},
		{"empty body", ``, http.StatusBadRequest, "request body is empty"},
		{"trailing data", `{"texts": ["a"]}garbage`, http.StatusBadRequest, "request body is not valid JSON"},
		{"two JSON values", `{"texts": ["a"]} {"texts": [1]}`, http.StatusBadRequest, "request body is not valid JSON"},
		{"too many texts", `{"texts": ["1","2","3","4","5","6","7","8","9","10","11","12","13","14","15","16","17"]}`, http.StatusBadRequest, "texts must contain at most 16 items"},
		{"body too large", `{"texts": ["` + strings.Repeat("x", 2*1024*1024) + `"]}`, http.StatusRequestEntityTooLarge, "request body too large (max 1048576 bytes)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postEmbed(t, r, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, "body: %s", rec.Body.String())

			var body embedapi.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantError, body.Error)

			// The service keeps answering valid requests afterwards.
			ok := postEmbed(t, r, `{"texts": ["still alive"]}`)
			assert.Equal(t, http.StatusOK, ok.Code)
		})
	}
}

func TestEmbedHandlerProviderFailure(t *testing.T) {
	m := new(embeddings.MockProvider)
	m.On("Encode", mock.Anything, []string{"boom"}, true).Return(nil, errors.New("onnx runtime error")).Once()
	m.On("Encode", mock.Anything, []string{"ok"}, true).Return([]embeddings.Vector{{1, 0}}, nil).Once()
	m.On("Model").Return("mock-model")

	r := newRouter(newTestDeps(m))

	rec := postEmbed(t, r, `{"texts": ["boom"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to encode texts"}`, rec.Body.String())

	rec = postEmbed(t, r, `{"texts": ["ok"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"model":"mock-model","dim":2,"vectors":[[1,0]]}`, rec.Body.String())

	m.AssertExpectations(t)
}

func TestEmbedHandlerRecoversProviderPanic(t *testing.T) {
	m := new(embeddings.MockProvider)
	m.On("Encode", mock.Anything, mock.Anything, true).Run(func(mock.Arguments) {
		panic("index out of range")
	}).Once()

	r := newRouter(newTestDeps(m))

	rec := postEmbed(t, r, `{"texts": ["x"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEmbedMessageHandlerRecoversProviderPanic(t *testing.T) {
	ns := startNATS(t)

	serverConn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer serverConn.Close()
	clientConn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer clientConn.Close()

	m := new(embeddings.MockProvider)
	m.On("Encode", mock.Anything, []string{"x"}, true).Run(func(mock.Arguments) {
		panic("index out of range")
	}).Once()
	m.On("Encode", mock.Anything, []string{"ok"}, true).Return([]embeddings.Vector{{1, 0}}, nil).Once()
	m.On("Model").Return("mock-model")

	deps := newTestDeps(m)
	stop := serveNATS(t, deps, serverConn, "embeddings.embed")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var errResp embedapi.ErrorResponse
	status, err := queue.Request(ctx, clientConn, "embeddings.embed", embedapi.EmbedRequest{Texts: []string{"x"}}, &errResp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotEmpty(t, errResp.Error)

	// The responder is still subscribed and serving.
	var resp embedapi.EmbedResponse
	status, err = queue.Request(ctx, clientConn, "embeddings.embed", embedapi.EmbedRequest{Texts: []string{"ok"}}, &resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, resp.Dim)

	m.AssertExpectations(t)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(newTestDeps(hashProvider{}))
	postEmbed(t, r, `{"texts": ["hello"]}`)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "embedder_http_requests_total")
}

func TestEmbedMessageHandler(t *testing.T) {
	h := embedMessageHandler(newTestDeps(hashProvider{}))

	t.Run("valid", func(t *testing.T) {
		out, status := h(context.Background(), []byte(`{"texts": ["a", "b"]}`))
		require.Equal(t, http.StatusOK, status)
		var resp embedapi.EmbedResponse
		require.NoError(t, json.Unmarshal(out, &resp))
		assert.Equal(t, 384, resp.Dim)
		assert.Len(t, resp.Vectors, 2)
	})

	t.Run("invalid", func(t *testing.T) {
		out, status := h(context.Background(), []byte(`{"texts": [1]}`))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, string(out), "texts must contain only strings")
	})

	t.Run("too large", func(t *testing.T) {
		_, status := h(context.Background(), bytes.Repeat([]byte("x"), 2*1024*1024))
		assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	})
}

func startNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

// serveNATS runs the embed responder on nc until the returned func is called.
func serveNATS(t *testing.T, deps app.Deps, nc *nats.Conn, subject string) func() {
	t.Helper()
	deps.Config.EmbedSubject = subject
	deps.NC = nc
	deps.Responder = queue.NewNATS(deps.Log, nc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- deps.Responder.Serve(ctx, subject, embedMessageHandler(deps))
	}()
	require.Eventually(t, func() bool {
		return nc.Flush() == nil && nc.NumSubscriptions() > 0
	}, 2*time.Second, 10*time.Millisecond)
	return func() {
		cancel()
		<-done
	}
}

func TestEmbedOverNATS(t *testing.T) {
	ns := startNATS(t)

	serverConn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer serverConn.Close()
	clientConn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer clientConn.Close()

	stop := serveNATS(t, newTestDeps(hashProvider{}), serverConn, "embeddings.embed")
	defer stop()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()

	var resp embedapi.EmbedResponse
	status, err := queue.Request(reqCtx, clientConn, "embeddings.embed", embedapi.EmbedRequest{Texts: []string{}}, &resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, resp.Dim)
	assert.Empty(t, resp.Vectors)

	var errResp embedapi.ErrorResponse
	status, err = queue.Request(reqCtx, clientConn, "embeddings.embed", map[string]any{"texts": "not-a-list"}, &errResp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "texts must be an array of strings", errResp.Error)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	deps := newTestDeps(hashProvider{})
	deps.Config.Port = 0
	deps.Config.ShutdownTimeout = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, deps) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestRunServesResponder(t *testing.T) {
	deps := newTestDeps(hashProvider{})
	deps.Config.Port = 0
	deps.Config.ShutdownTimeout = 1
	deps.Config.EmbedSubject = "embeddings.embed"

	r := new(queue.MockResponder)
	r.On("Serve", mock.Anything, "embeddings.embed", mock.AnythingOfType("queue.Handler")).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil).Once()
	deps.Responder = r

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, deps) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	r.AssertExpectations(t)
}

func TestRunStopsWhenResponderFails(t *testing.T) {
	deps := newTestDeps(hashProvider{})
	deps.Config.Port = 0
	deps.Config.ShutdownTimeout = 1
	deps.Config.EmbedSubject = "embeddings.embed"

	r := new(queue.MockResponder)
	r.On("Serve", mock.Anything, "embeddings.embed", mock.Anything).Return(errors.New("subscribe: permissions violation")).Once()
	deps.Responder = r

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), deps) }()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "permissions violation")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after responder failure")
	}
	r.AssertExpectations(t)
}
