package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalbasit/actionlock/pkg/lock"
	"github.com/kalbasit/actionlock/pkg/lock/concurrency"
	"github.com/kalbasit/actionlock/pkg/lock/group"
	"github.com/kalbasit/actionlock/pkg/lock/manager"
	"github.com/kalbasit/actionlock/pkg/lock/priority"
	"github.com/kalbasit/actionlock/pkg/lock/registry"
	"github.com/kalbasit/actionlock/pkg/lock/singleexec"
	"github.com/kalbasit/actionlock/pkg/server"
)

type lockResponse struct {
	Outcome   string `json:"outcome"`
	UniqueID  string `json:"uniqueId"`
	Reason    string `json:"reason"`
	Cancelled []struct {
		Boundary string `json:"boundary"`
		ActionID string `json:"actionId"`
		UniqueID string `json:"uniqueId"`
	} `json:"cancelled"`
}

type lockView struct {
	StrategyID    string   `json:"strategyId"`
	ActionID      string   `json:"actionId"`
	UniqueID      string   `json:"uniqueId"`
	Mode          string   `json:"mode"`
	Priority      string   `json:"priority"`
	ConcurrencyID string   `json:"concurrencyId"`
	Limit         string   `json:"limit"`
	Role          string   `json:"role"`
	Groups        []string `json:"groups"`
}

func newContext() context.Context {
	return zerolog.
		New(io.Discard).
		WithContext(context.Background())
}

func newTestServer(t *testing.T) (*httptest.Server, *manager.Manager, *server.Server) {
	t.Helper()

	r := registry.New()
	require.NoError(t, r.RegisterAll(singleexec.New(), priority.New(), concurrency.New(), group.New()))

	m := manager.New(manager.WithRegistry(r))
	s := server.New(m)

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	return ts, m, s
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(newContext(), method, url, rd)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func postLock(t *testing.T, baseURL, boundary, body string) (int, lockResponse) {
	t.Helper()

	resp := do(t, http.MethodPost, baseURL+"/boundaries/"+boundary+"/locks", body)

	var lr lockResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))

	return resp.StatusCode, lr
}

func TestServeHTTP_PostLock(t *testing.T) {
	t.Parallel()

	t.Run("singleexec success then conflict", func(t *testing.T) {
		t.Parallel()

		ts, _, _ := newTestServer(t)

		status, first := postLock(t, ts.URL, "b1", `{"strategy":"singleexec","actionId":"build","mode":"boundary"}`)
		assert.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "success", first.Outcome)
		assert.NotEmpty(t, first.UniqueID)

		status, second := postLock(t, ts.URL, "b1", `{"strategy":"singleexec","actionId":"deploy","mode":"boundary"}`)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "cancel", second.Outcome)
		assert.Contains(t, second.Reason, "boundary already locked")

		status, other := postLock(t, ts.URL, "b2", `{"strategy":"singleexec","actionId":"deploy","mode":"boundary"}`)
		assert.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "success", other.Outcome)
	})

	t.Run("priority replacement lists cancelled locks", func(t *testing.T) {
		t.Parallel()

		ts, m, _ := newTestServer(t)

		status, low := postLock(t, ts.URL, "b", `{"strategy":"priority","actionId":"sync","priority":"low"}`)
		require.Equal(t, http.StatusCreated, status)

		status, high := postLock(t, ts.URL, "b", `{"strategy":"priority","actionId":"refresh","priority":"high"}`)
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "success_with_preceding_cancellation", high.Outcome)

		require.Len(t, high.Cancelled, 1)
		assert.Equal(t, low.UniqueID, high.Cancelled[0].UniqueID)
		assert.Equal(t, "sync", high.Cancelled[0].ActionID)

		held := m.CurrentLocks(newContext())[priority.StrategyID][lock.Boundary("b")]
		require.Len(t, held, 1)
		assert.Equal(t, "refresh", held[0].ActionID())

		// the cancelled lock no longer has a handle
		resp := do(t, http.MethodDelete, ts.URL+"/boundaries/b/locks/"+low.UniqueID, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("concurrency limit", func(t *testing.T) {
		t.Parallel()

		ts, _, _ := newTestServer(t)

		body := `{"strategy":"concurrency","actionId":"job","limit":2,"concurrencyGroup":"workers"}`

		for range 2 {
			status, _ := postLock(t, ts.URL, "b", body)
			assert.Equal(t, http.StatusCreated, status)
		}

		status, lr := postLock(t, ts.URL, "b", body)
		assert.Equal(t, http.StatusConflict, status)
		assert.Contains(t, lr.Reason, "concurrency limit reached")
	})

	t.Run("zero limit is unlimited and negative limit is rejected", func(t *testing.T) {
		t.Parallel()

		ts, m, _ := newTestServer(t)

		for range 5 {
			status, _ := postLock(t, ts.URL, "b", `{"strategy":"concurrency","actionId":"job","limit":0}`)
			assert.Equal(t, http.StatusCreated, status)
		}

		assert.Len(t, m.CurrentLocks(newContext())[concurrency.StrategyID]["b"], 5)

		resp := do(t, http.MethodPost, ts.URL+"/boundaries/b/locks", `{"strategy":"concurrency","actionId":"job","limit":-2}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body["error"], "must not be negative")
	})

	t.Run("group leader and member", func(t *testing.T) {
		t.Parallel()

		ts, _, _ := newTestServer(t)

		status, lr := postLock(t, ts.URL, "b", `{"strategy":"group","actionId":"m","role":"member","groups":["g1"]}`)
		assert.Equal(t, http.StatusConflict, status)
		assert.Contains(t, lr.Reason, "member cannot join empty group")

		status, _ = postLock(t, ts.URL, "b", `{"strategy":"group","actionId":"l","role":"leader","groups":["g1"]}`)
		assert.Equal(t, http.StatusCreated, status)

		status, _ = postLock(t, ts.URL, "b", `{"strategy":"group","actionId":"m","role":"member","groups":["g1"]}`)
		assert.Equal(t, http.StatusCreated, status)
	})

	t.Run("bad requests", func(t *testing.T) {
		t.Parallel()

		ts, _, _ := newTestServer(t)

		tests := []struct {
			name string
			body string
		}{
			{"malformed json", `{`},
			{"unknown strategy kind", `{"strategy":"nope","actionId":"a"}`},
			{"bad mode", `{"strategy":"singleexec","actionId":"a","mode":"sometimes"}`},
			{"bad priority", `{"strategy":"priority","actionId":"a","priority":"urgent"}`},
			{"bad behavior", `{"strategy":"priority","actionId":"a","priority":"low","behavior":"polite"}`},
			{"negative limit", `{"strategy":"concurrency","actionId":"a","limit":-1}`},
			{"no groups", `{"strategy":"group","actionId":"a","role":"leader"}`},
			{"bad role", `{"strategy":"group","actionId":"a","role":"boss","groups":["g"]}`},
			{"bad entry policy", `{"strategy":"group","actionId":"a","role":"leader","groups":["g"],"entryPolicy":"any"}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				resp := do(t, http.MethodPost, ts.URL+"/boundaries/b/locks", tt.body)
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.NotEmpty(t, body["error"])
			})
		}
	})

	t.Run("unregistered strategy id", func(t *testing.T) {
		t.Parallel()

		ts, _, _ := newTestServer(t)

		resp := do(t, http.MethodPost, ts.URL+"/boundaries/b/locks",
			`{"strategy":"singleexec","strategyId":"custom","actionId":"a","mode":"action"}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServeHTTP_GetLocks(t *testing.T) {
	t.Parallel()

	ts, _, _ := newTestServer(t)

	status, se := postLock(t, ts.URL, "b", `{"strategy":"singleexec","actionId":"build","mode":"action"}`)
	require.Equal(t, http.StatusCreated, status)

	status, _ = postLock(t, ts.URL, "b", `{"strategy":"concurrency","actionId":"job","limit":3}`)
	require.Equal(t, http.StatusCreated, status)

	resp := do(t, http.MethodGet, ts.URL+"/locks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]map[string][]lockView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	seLocks := body[singleexec.StrategyID.String()]["b"]
	require.Len(t, seLocks, 1)
	assert.Equal(t, "build", seLocks[0].ActionID)
	assert.Equal(t, se.UniqueID, seLocks[0].UniqueID)
	assert.Equal(t, "action", seLocks[0].Mode)

	ccLocks := body[concurrency.StrategyID.String()]["b"]
	require.Len(t, ccLocks, 1)
	assert.Equal(t, "job", ccLocks[0].ConcurrencyID)
	assert.Equal(t, "3", ccLocks[0].Limit)
}

func TestServeHTTP_GetStrategies(t *testing.T) {
	t.Parallel()

	ts, _, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/strategies", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []registry.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))

	ids := make([]lock.StrategyID, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}

	assert.ElementsMatch(t, []lock.StrategyID{
		singleexec.StrategyID,
		priority.StrategyID,
		concurrency.StrategyID,
		group.StrategyID,
	}, ids)
}

func TestServeHTTP_Release(t *testing.T) {
	t.Parallel()

	t.Run("DELETE lock", func(t *testing.T) {
		t.Parallel()

		ts, m, _ := newTestServer(t)

		_, lr := postLock(t, ts.URL, "b", `{"strategy":"singleexec","actionId":"build","mode":"boundary"}`)

		resp := do(t, http.MethodDelete, ts.URL+"/boundaries/other/locks/"+lr.UniqueID, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "wrong boundary")

		resp = do(t, http.MethodDelete, ts.URL+"/boundaries/b/locks/"+lr.UniqueID+"?policy=immediate", "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		assert.Empty(t, m.CurrentLocks(newContext()))

		resp = do(t, http.MethodDelete, ts.URL+"/boundaries/b/locks/"+lr.UniqueID, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "released twice")
	})

	t.Run("only the surviving lock of concurrent replacements can be released", func(t *testing.T) {
		t.Parallel()

		ts, m, _ := newTestServer(t)

		const workers = 20

		var (
			mu  sync.Mutex
			ids []string
			wg  sync.WaitGroup
		)

		for range workers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				req, err := http.NewRequestWithContext(
					newContext(),
					http.MethodPost,
					ts.URL+"/boundaries/b/locks",
					strings.NewReader(`{"strategy":"priority","actionId":"sync","priority":"low","behavior":"replaceable"}`),
				)
				if !assert.NoError(t, err) {
					return
				}

				resp, err := http.DefaultClient.Do(req)
				if !assert.NoError(t, err) {
					return
				}
				defer resp.Body.Close()

				var lr lockResponse
				if assert.NoError(t, json.NewDecoder(resp.Body).Decode(&lr)) &&
					assert.Equal(t, http.StatusCreated, resp.StatusCode) {
					mu.Lock()
					ids = append(ids, lr.UniqueID)
					mu.Unlock()
				}
			}()
		}

		wg.Wait()

		require.Len(t, ids, workers)

		held := m.CurrentLocks(newContext())[priority.StrategyID]["b"]
		require.Len(t, held, 1)

		var released []string

		for _, id := range ids {
			resp := do(t, http.MethodDelete, ts.URL+"/boundaries/b/locks/"+id, "")
			if resp.StatusCode == http.StatusNoContent {
				released = append(released, id)
			} else {
				assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			}
		}

		assert.Equal(t, []string{held[0].UniqueID().String()}, released)
	})

	t.Run("DELETE lock with bad parameters", func(t *testing.T) {
		t.Parallel()

		ts, _, _ := newTestServer(t)

		_, lr := postLock(t, ts.URL, "b", `{"strategy":"singleexec","actionId":"build","mode":"boundary"}`)

		for _, query := range []string{"?policy=eventually", "?delay=soon"} {
			resp := do(t, http.MethodDelete, ts.URL+"/boundaries/b/locks/"+lr.UniqueID+query, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
		}

		resp := do(t, http.MethodDelete, ts.URL+"/boundaries/b/locks/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("DELETE boundary", func(t *testing.T) {
		t.Parallel()

		ts, m, _ := newTestServer(t)

		_, lr := postLock(t, ts.URL, "b1", `{"strategy":"singleexec","actionId":"build","mode":"boundary"}`)
		postLock(t, ts.URL, "b2", `{"strategy":"singleexec","actionId":"build","mode":"boundary"}`)

		resp := do(t, http.MethodDelete, ts.URL+"/boundaries/b1", "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		held := m.CurrentLocks(newContext())[singleexec.StrategyID]
		assert.NotContains(t, held, lock.Boundary("b1"))
		assert.Contains(t, held, lock.Boundary("b2"))

		resp = do(t, http.MethodDelete, ts.URL+"/boundaries/b1/locks/"+lr.UniqueID, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("DELETE all", func(t *testing.T) {
		t.Parallel()

		ts, m, _ := newTestServer(t)

		postLock(t, ts.URL, "b1", `{"strategy":"singleexec","actionId":"build","mode":"boundary"}`)
		postLock(t, ts.URL, "b2", `{"strategy":"priority","actionId":"sync","priority":"low"}`)

		resp := do(t, http.MethodDelete, ts.URL+"/locks", "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		assert.Empty(t, m.CurrentLocks(newContext()))
	})
}

func TestServeHTTP_Metrics(t *testing.T) {
	t.Parallel()

	t.Run("without a gatherer", func(t *testing.T) {
		t.Parallel()

		ts, _, _ := newTestServer(t)

		resp := do(t, http.MethodGet, ts.URL+"/metrics", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("with a gatherer", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: "actionlock_server_test_total"})
		reg.MustRegister(c)
		c.Add(2)

		ts, _, s := newTestServer(t)
		s.SetPrometheusGatherer(reg)

		resp := do(t, http.MethodGet, ts.URL+"/metrics", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Contains(t, string(body), "actionlock_server_test_total 2")
	})
}

func TestServeHTTP_Healthz(t *testing.T) {
	t.Parallel()

	ts, _, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
