package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slush-dev/agentpush"
	"github.com/slush-dev/agentpush/incoming"
	"github.com/slush-dev/agentpush/store"
	"github.com/slush-dev/agentpush/tokensync"
)

type noTokens struct{}

func (noTokens) FetchToken(context.Context) agentpush.TokenResult { return agentpush.TokenCanceled() }

type fixture struct {
	server  *Server
	docs    *store.MemoryStore
	sync    *tokensync.Synchronizer
	runner  *incoming.Runner
	handled []agentpush.Handoff
}

func newFixture(t *testing.T, decision incoming.Decision) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{docs: store.NewMemoryStore()}
	f.sync = tokensync.New(f.docs, noTokens{}, "Google Pixel 7", tokensync.WithLogger(logger))
	handler := incoming.CallHandlerFunc(func(ctx context.Context, h agentpush.Handoff) error {
		f.handled = append(f.handled, h)
		return nil
	})
	f.runner = incoming.NewRunner(incoming.Deps{
		UserID:  "alice",
		Status:  f.sync,
		Handler: handler,
		Logger:  logger,
	}, incoming.Always(decision), 1)
	f.server = New(f.sync, f.runner, logger)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	f.server.Handler().ServeHTTP(w, req)
	return w
}

const pushBody = `{"accountId":"9900000","applicationId":"app-1","fromNo":"+15551234567","toNo":"+15557654321"}`

func TestHealthz(t *testing.T) {
	f := newFixture(t, incoming.Accept)
	w := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestRequestIDPropagated(t *testing.T) {
	f := newFixture(t, incoming.Accept)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "rid-42")
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "rid-42", w.Header().Get(headerRequestID))
}

func TestPush_WaitAccept(t *testing.T) {
	f := newFixture(t, incoming.Accept)

	w := f.do(http.MethodPost, "/v1/push?wait=true", pushBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp pushResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.State)
	assert.Equal(t, "15551234567", resp.Caller)
	require.NotNil(t, resp.Handoff)
	assert.True(t, resp.Handoff.IsDirectCall)
	assert.Equal(t, "15557654321", resp.Handoff.ToNo)
	require.Len(t, f.handled, 1)

	rec, err := f.sync.Record(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, agentpush.StatusIdle, rec.Status, "agent is idle again after the call")
}

func TestPush_WaitDecline(t *testing.T) {
	f := newFixture(t, incoming.Decline)

	w := f.do(http.MethodPost, "/v1/push?wait=true", pushBody)
	require.Equal(t, http.StatusOK, w.Code)

	var resp pushResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "declined", resp.State)
	assert.Nil(t, resp.Handoff)
	assert.Empty(t, f.handled)

	rec, err := f.sync.Record(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, agentpush.StatusRinging, rec.Status)
}

func TestPush_WaitUndecodable(t *testing.T) {
	f := newFixture(t, incoming.Accept)

	w := f.do(http.MethodPost, "/v1/push?wait=true", `{"accountId":"a"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, f.handled)
}

func TestPush_Queued(t *testing.T) {
	f := newFixture(t, incoming.Accept)

	w := f.do(http.MethodPost, "/v1/push", pushBody)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"queued":true}`, w.Body.String())

	// The runner has no worker in this test, so the single slot stays taken.
	w = f.do(http.MethodPost, "/v1/push", pushBody)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPush_BadBody(t *testing.T) {
	f := newFixture(t, incoming.Accept)

	for _, body := range []string{"", "[1,2]", `{"accountId":1}`, "{}"} {
		w := f.do(http.MethodPost, "/v1/push", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestGetAgent(t *testing.T) {
	f := newFixture(t, incoming.Accept)
	require.NoError(t, f.sync.UpdateToken(context.Background(), "alice", "tok-1"))

	w := f.do(http.MethodGet, "/v1/agents/alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"token":"tok-1","device":"Google Pixel 7"}`, w.Body.String())

	w = f.do(http.MethodGet, "/v1/agents/bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t, incoming.Accept)

	w := f.do(http.MethodPut, "/v1/agents/alice/status", `{"status":"On Break"}`)
	require.Equal(t, http.StatusOK, w.Code)

	writes := f.docs.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, map[string]any{"status": "On Break"}, writes[0].Fields)

	w = f.do(http.MethodPut, "/v1/agents/alice/status", `{"status":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodPut, "/v1/agents/alice/status", `nope`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetStatus_StoreFailure(t *testing.T) {
	f := newFixture(t, incoming.Accept)
	f.docs.FailWith(errors.New("unavailable"))

	w := f.do(http.MethodPut, "/v1/agents/alice/status", `{"status":"Idle"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = f.do(http.MethodGet, "/v1/agents/alice", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRun_Shutdown(t *testing.T) {
	f := newFixture(t, incoming.Accept)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.server.Run(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-errCh)
}
