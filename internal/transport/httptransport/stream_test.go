package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/scenario/cache"
	"github.com/awmpietro/reaction-sim/internal/sim"
)

const fireDOT = `digraph fire {
  id="fire"
  detect [layer=system, title="Smoke detected", duration_ms=200, automated=true]
  alarm [layer=crew, kind=decision, title="Sound general alarm", duration_ms=100]
  detect -> alarm
}`

func newServer(t *testing.T) (*httptest.Server, *app.Runs) {
	t.Helper()
	svc := app.NewService(app.DecoderFunc(scenario.Decode), cache.NewInMemory(16))
	runs := app.NewRuns(svc, 8)
	srv := httptest.NewServer(NewHandler(svc, runs, nil).Routes())
	t.Cleanup(func() {
		srv.Close()
		runs.Close()
	})
	return srv, runs
}

func startRun(t *testing.T, srv *httptest.Server, body string) app.RunView {
	t.Helper()
	resp, err := http.Post(srv.URL+"/runs", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view app.RunView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.Equal(t, "/runs/"+view.ID, resp.Header.Get("Location"))
	return view
}

func TestRunEvents_StreamsReplayAndCloses(t *testing.T) {
	srv, runs := newServer(t)

	src, _ := json.Marshal(fireDOT)
	view := startRun(t, srv, `{"source":`+string(src)+`,"instant":true,"success_probability":1}`)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/runs/" + view.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []app.StreamEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(got) < 6 {
		var ev app.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev)
	}

	assert.Equal(t, sim.EventStarted, got[0].Event)
	assert.Equal(t, "detect", got[1].Transition.NodeID)
	assert.Equal(t, sim.StatusActive, got[1].Transition.To)
	assert.Equal(t, sim.EventFinished, got[5].Event)

	runs.Close()
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestRunEvents_OriginCheck(t *testing.T) {
	svc := app.NewService(app.DecoderFunc(scenario.Decode), cache.NewInMemory(16))
	src, _ := json.Marshal(fireDOT)
	body := `{"source":` + string(src) + `,"instant":true,"success_probability":1}`

	tests := []struct {
		name    string
		opts    []HandlerOption
		origin  string
		allowed bool
	}{
		{name: "cross_origin_rejected_by_default", origin: "https://evil.example", allowed: false},
		{name: "no_origin_header", allowed: true},
		{name: "listed_origin", opts: []HandlerOption{WithAllowedOrigins("https://bridge.example/")}, origin: "https://bridge.example", allowed: true},
		{name: "unlisted_origin", opts: []HandlerOption{WithAllowedOrigins("https://bridge.example")}, origin: "https://evil.example", allowed: false},
		{name: "wildcard", opts: []HandlerOption{WithAllowedOrigins("*")}, origin: "https://anywhere.example", allowed: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runs := app.NewRuns(svc, 2)
			srv := httptest.NewServer(NewHandler(svc, runs, nil, tc.opts...).Routes())
			t.Cleanup(func() {
				srv.Close()
				runs.Close()
			})
			view := startRun(t, srv, body)

			header := http.Header{}
			if tc.origin != "" {
				header.Set("Origin", tc.origin)
			}
			wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/runs/" + view.ID + "/events"
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			if tc.allowed {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestRunEvents_UnknownRun(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/runs/missing/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRuns_HTTPLifecycle(t *testing.T) {
	srv, runs := newServer(t)

	src, _ := json.Marshal(fireDOT)
	view := startRun(t, srv, `{"source":`+string(src)+`,"success_probability":1}`)

	do := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, bytes.NewBufferString(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := do(http.MethodPost, "/runs/"+view.ID+"/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(http.MethodPost, "/runs/"+view.ID+"/stop", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(http.MethodPost, "/runs/"+view.ID+"/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(http.MethodPut, "/runs/"+view.ID+"/speed", `{"multiplier":0}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(http.MethodPut, "/runs/"+view.ID+"/speed", `{"multiplier":50}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(http.MethodPost, "/runs/"+view.ID+"/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, runs.Wait(ctx, view.ID))

	resp = do(http.MethodGet, "/runs/"+view.ID+"/logs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs struct {
		Logs []sim.LogEntry `json:"logs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	assert.NotEmpty(t, logs.Logs)

	resp = do(http.MethodGet, "/runs/"+view.ID+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m sim.ReactionMetrics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, 1, m.LayerStatistics[scenario.LayerCrew].TotalDecisions)
}
