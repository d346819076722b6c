package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/agentlane/execution-gateway/internal/adapters"
	"github.com/agentlane/execution-gateway/internal/auth"
)

// newTestServer provisions a pro-tier caller and serves the gateway mux.
func newTestServer(t *testing.T, script ...adapters.MockResponse) (*testGateway, *httptest.Server, string) {
	t.Helper()
	tg := newTestGateway(t, script...)

	_, rawKey, err := auth.NewKeyStore(tg.db).CreateCaller(context.Background(), "org-1", auth.PlanPro, "tester", nil)
	require.NoError(t, err)

	srv := httptest.NewServer(tg.g.Routes())
	t.Cleanup(srv.Close)
	return tg, srv, rawKey
}

func doJSON(t *testing.T, method, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func bodyJSON(t *testing.T, resp *http.Response) gjson.Result {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return gjson.ParseBytes(raw)
}

func TestHandleExecuteSuccess(t *testing.T) {
	_, srv, key := newTestServer(t, adapters.MockResponse{
		Content: "drafted",
		Usage:   adapters.UsageInfo{InputTokens: 10, OutputTokens: 4},
	})

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/execute", key,
		`{"agentId":"reply-draft","input":{"message":"hi"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	body := bodyJSON(t, resp)
	assert.True(t, body.Get("success").Bool())
	assert.Equal(t, "drafted", body.Get("data.text").String())
	assert.Equal(t, int64(14), body.Get("usage.total_tokens").Int())
	assert.Equal(t, "mock", body.Get("agent.provider").String())
}

func TestHandleExecuteStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		key        bool
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing credential", false, `{"agentId":"reply-draft","input":{}}`, http.StatusUnauthorized, "AUTH_MISSING"},
		{"malformed body", true, `{not json`, http.StatusBadRequest, "INPUT_MALFORMED"},
		{"missing agent id", true, `{"input":{}}`, http.StatusBadRequest, "INPUT_MALFORMED"},
		{"unknown agent", true, `{"agentId":"nope","input":{}}`, http.StatusBadRequest, "AGENT_NOT_FOUND"},
		{"schema violation", true, `{"agentId":"reply-draft","input":{}}`, http.StatusBadRequest, "INPUT_SCHEMA_VIOLATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv, key := newTestServer(t)
			if !tt.key {
				key = ""
			}
			resp := doJSON(t, http.MethodPost, srv.URL+"/v1/execute", key, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			body := bodyJSON(t, resp)
			assert.False(t, body.Get("success").Bool())
			assert.Equal(t, tt.wantCode, body.Get("code").String())
		})
	}
}

func TestHandleExecuteInvalidCredential(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/execute", "agl_not_a_real_key",
		`{"agentId":"reply-draft","input":{"message":"hi"}}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "AUTH_INVALID", bodyJSON(t, resp).Get("code").String())
}

func TestHandleExecuteRateLimitHeaders(t *testing.T) {
	tg, srv, key := newTestServer(t, adapters.MockResponse{
		Content: "ok",
		Usage:   adapters.UsageInfo{InputTokens: 1, OutputTokens: 1},
	})
	tg.g.plans[auth.PlanPro] = auth.PlanLimits{MonthlyTokens: 100_000, UserPerMinute: 1}

	first := doJSON(t, http.MethodPost, srv.URL+"/v1/execute", key,
		`{"agentId":"reply-draft","input":{"message":"hi"}}`)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := doJSON(t, http.MethodPost, srv.URL+"/v1/execute", key,
		`{"agentId":"reply-draft","input":{"message":"hi"}}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.NotEmpty(t, second.Header.Get("Retry-After"))

	body := bodyJSON(t, second)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.Get("code").String())
	retryAfter := body.Get("retryAfterMs").Int()
	assert.Greater(t, retryAfter, int64(0))
	assert.LessOrEqual(t, retryAfter, int64(60_000))
}

func TestHandleBudgetRefusedStatus(t *testing.T) {
	tg, srv, key := newTestServer(t)
	tg.g.plans[auth.PlanPro] = auth.PlanLimits{MonthlyTokens: 10}

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/execute", key,
		`{"agentId":"reply-draft","input":{"message":"hi"}}`)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "TOKEN_BUDGET_EXCEEDED", bodyJSON(t, resp).Get("code").String())
}

func TestHandleHealthUnauthenticated(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", bodyJSON(t, resp).Get("status").String())
}

func TestHandleAgentsList(t *testing.T) {
	_, srv, key := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/agents", key, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := bodyJSON(t, resp)
	agents := body.Get("agents").Array()
	require.Len(t, agents, 3)
	assert.Equal(t, "misrouted", agents[0].Get("id").String())
	assert.Equal(t, "generation", agents[0].Get("kind").String())
}

func TestHandleBudgetSnapshot(t *testing.T) {
	_, srv, key := newTestServer(t, adapters.MockResponse{
		Content: "ok",
		Usage:   adapters.UsageInfo{InputTokens: 20, OutputTokens: 10},
	})

	exec := doJSON(t, http.MethodPost, srv.URL+"/v1/execute", key,
		`{"agentId":"reply-draft","input":{"message":"hi"}}`)
	require.Equal(t, http.StatusOK, exec.StatusCode)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/budget", key, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := bodyJSON(t, resp)
	assert.Equal(t, "org-1", body.Get("orgId").String())
	assert.Equal(t, int64(30), body.Get("tokensUsed").Int())
	assert.Equal(t, int64(0), body.Get("tokensReserved").Int())
	assert.Equal(t, int64(100_000), body.Get("monthlyTokenLimit").Int())
}

func TestHandleRunsList(t *testing.T) {
	_, srv, key := newTestServer(t, adapters.MockResponse{
		Content: "ok",
		Usage:   adapters.UsageInfo{InputTokens: 1, OutputTokens: 1},
	})

	exec := doJSON(t, http.MethodPost, srv.URL+"/v1/execute", key,
		`{"agentId":"reply-draft","input":{"message":"hi"}}`)
	require.Equal(t, http.StatusOK, exec.StatusCode)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/runs?limit=5", key, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	runs := bodyJSON(t, resp).Get("runs").Array()
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].Get("status").String())
	assert.Equal(t, "reply-draft", runs[0].Get("agentId").String())

	bad := doJSON(t, http.MethodGet, srv.URL+"/v1/runs?limit=abc", key, "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHandleStats(t *testing.T) {
	_, srv, key := newTestServer(t, adapters.MockResponse{
		Content: "ok",
		Usage:   adapters.UsageInfo{InputTokens: 1, OutputTokens: 1},
	})

	exec := doJSON(t, http.MethodPost, srv.URL+"/v1/execute", key,
		`{"agentId":"reply-draft","input":{"message":"hi"}}`)
	require.Equal(t, http.StatusOK, exec.StatusCode)

	resp := doJSON(t, http.MethodGet, srv.URL+"/stats", key, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := bodyJSON(t, resp)
	assert.Equal(t, int64(1), body.Get("runs.total").Int())
	assert.Equal(t, int64(1), body.Get("runs.succeeded").Int())
}

func TestMethodNotAllowed(t *testing.T) {
	_, srv, key := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/execute", key, "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/agents", key, "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
