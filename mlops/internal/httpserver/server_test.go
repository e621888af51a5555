package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/mlops/mlops/internal/config"
	"github.com/ILLUVRSE/mlops/mlops/internal/gate"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
	"github.com/ILLUVRSE/mlops/mlops/internal/store"
)

type stubPoller struct {
	out   gate.Outcome
	err   error
	calls int
}

func (p *stubPoller) Poll(ctx context.Context) (gate.Outcome, error) {
	p.calls++
	return p.out, p.err
}

type failingStore struct{ store.Store }

func (failingStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, cfg config.Service, p Poller, st store.Store) *httptest.Server {
	t.Helper()
	cfg.PipelineName = "abalone-pipeline"
	cfg.ModelName = "abalone"
	srv := httptest.NewServer(New(cfg, p, st, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func post(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, config.Service{}, &stubPoller{}, store.NewMemoryStore())
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newTestServer(t, config.Service{}, &stubPoller{}, failingStore{})
	resp2, err := http.Get(down.URL + "/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestDecisionRoutes(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []models.ApprovalStatus{models.ApprovalApproved, models.ApprovalRejected, models.ApprovalApproved} {
		_, err := st.RecordDecision(context.Background(), models.Decision{
			PipelineName: "abalone-pipeline",
			ExecutionID:  fmt.Sprintf("e%d", i),
			Status:       status,
			DecidedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	srv := newTestServer(t, config.Service{}, &stubPoller{}, st)

	resp, err := http.Get(srv.URL + "/gate/decisions?limit=1&offset=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Decisions []models.Decision `json:"decisions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Decisions, 1)
	assert.Equal(t, "e1", list.Decisions[0].ExecutionID)

	bad, err := http.Get(srv.URL + "/gate/decisions?limit=abc")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	badStatus, err := http.Get(srv.URL + "/gate/decisions?status=Maybe")
	require.NoError(t, err)
	defer badStatus.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badStatus.StatusCode)

	one, err := http.Get(srv.URL + "/gate/decisions/e2")
	require.NoError(t, err)
	defer one.Body.Close()
	require.Equal(t, http.StatusOK, one.StatusCode)
	var d models.Decision
	require.NoError(t, json.NewDecoder(one.Body).Decode(&d))
	assert.Equal(t, models.ApprovalApproved, d.Status)

	missing, err := http.Get(srv.URL + "/gate/decisions/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestPollWithDebugToken(t *testing.T) {
	p := &stubPoller{out: gate.Outcome{ExecutionID: "e123", Pending: true}}
	srv := newTestServer(t, config.Service{DebugToken: "letmein"}, p, store.NewMemoryStore())

	resp := post(t, srv.URL+"/gate/poll", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, p.calls)

	resp = post(t, srv.URL+"/gate/poll", map[string]string{"X-Debug-Token": "letmein"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body pollResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Processing Job (e123) in progress", body.Message)
	assert.True(t, body.Outcome.Pending)
}

func TestPollWithJWT(t *testing.T) {
	const secret = "s3cr3t"
	p := &stubPoller{out: gate.Outcome{ExecutionID: "e123", Result: models.ApprovalResult{Status: models.ApprovalApproved}}}
	srv := newTestServer(t, config.Service{JWTSecret: secret, DebugToken: "ignored"}, p, store.NewMemoryStore())
	exp := time.Now().Add(time.Hour).Unix()

	good := signed(t, secret, jwt.MapClaims{"scope": "gate:read gate:poll", "exp": exp})
	resp := post(t, srv.URL+"/gate/poll", map[string]string{"Authorization": "Bearer " + good})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	noScope := signed(t, secret, jwt.MapClaims{"scope": "gate:read", "exp": exp})
	resp = post(t, srv.URL+"/gate/poll", map[string]string{"Authorization": "Bearer " + noScope})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wrongKey := signed(t, "other", jwt.MapClaims{"scope": "gate:poll", "exp": exp})
	resp = post(t, srv.URL+"/gate/poll", map[string]string{"Authorization": "Bearer " + wrongKey})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	noExp := signed(t, secret, jwt.MapClaims{"scope": "gate:poll"})
	resp = post(t, srv.URL+"/gate/poll", map[string]string{"Authorization": "Bearer " + noExp})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, srv.URL+"/gate/poll", map[string]string{"X-Debug-Token": "ignored"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, 1, p.calls)
}

func TestPollErrors(t *testing.T) {
	auth := map[string]string{"X-Debug-Token": "t"}
	cases := []struct {
		name   string
		poller *stubPoller
		status int
	}{
		{"no pending approval", &stubPoller{err: fmt.Errorf("%w: action token wasn't found", gate.ErrNoPendingApproval)}, http.StatusConflict},
		{"state unavailable", &stubPoller{err: errors.New("throttled")}, http.StatusBadGateway},
		{"resolved but disable failed", &stubPoller{out: gate.Outcome{ExecutionID: "e1"}, err: errors.New("AccessDenied")}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, config.Service{DebugToken: "t"}, tc.poller, store.NewMemoryStore())
			resp := post(t, srv.URL+"/gate/poll", auth)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestPollWithoutAuthConfigured(t *testing.T) {
	srv := newTestServer(t, config.Service{}, &stubPoller{}, store.NewMemoryStore())
	resp := post(t, srv.URL+"/gate/poll", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
