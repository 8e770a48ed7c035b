package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/classmesh"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/engine"
	"github.com/hupe1980/classmesh/internal/testutil"
	"github.com/hupe1980/classmesh/scenario"
)

func newServer(t *testing.T) (*classmesh.Simulation, *httptest.Server) {
	t.Helper()
	sc := testutil.NewScenarioBuilder().
		Agents(testutil.Teacher("t1"), testutil.Student("s1"), testutil.Student("s2")).
		Edit(func(sc *scenario.Scenario) { sc.Runtime.TickInterval = 5 * time.Millisecond }).
		Build()
	sim, err := classmesh.New(sc)
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(sim, nil))
	t.Cleanup(func() {
		srv.Close()
		_ = sim.Close()
	})
	return sim, srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf strings.Builder
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, []byte(buf.String())
}

func TestStatus(t *testing.T) {
	_, srv := newServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var st struct {
		State  string `json:"state"`
		Tick   int64  `json:"tick"`
		Agents int    `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, 3, st.Agents)
}

func TestAgents_CRUD(t *testing.T) {
	sim, srv := newServer(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/agents", `{"id":"s3","name":"Noah","role":"student","group":"7a"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, sim.Agents(), 4)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/agents", `{"id":"s3","role":"student"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/agents", `{"id":"s4","role":"janitor"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"field":"role"`)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/agents", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/agents/s3", `{"name":"Noah B.","role":"student","group":"7a"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p, ok := sim.Agent("s3")
	require.True(t, ok)
	assert.Equal(t, "Noah B.", p.Name)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/agents/s3", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/agents/s3", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/agents/s3", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestControl_ConflictsWhenIdle(t *testing.T) {
	_, srv := newServer(t)

	for _, path := range []string{"/api/pause", "/api/resume", "/api/stop"} {
		resp, _ := do(t, http.MethodPost, srv.URL+path, "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
	}
}

func TestControl_StartAndStop(t *testing.T) {
	sim, srv := newServer(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.Eventually(t, func() bool {
		return sim.Status().State == engine.StateRunning && sim.Status().Tick > 0
	}, 2*time.Second, 5*time.Millisecond)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, sim.Wait(context.Background()))
	assert.Equal(t, engine.StateStopped, sim.Status().State)
}

func TestReload(t *testing.T) {
	sim, srv := newServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/reload", "class_controller:\n  lecture_ticks: 0\n")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "class_controller.lecture_ticks")

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/reload", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/reload", "class_controller:\n  lecture_ticks: 6\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 6, sim.Engine().Scenario().ClassController.LectureTicks)
	assert.Len(t, sim.Agents(), 3)
}

func TestMessagesAndKnowledge(t *testing.T) {
	sim, srv := newServer(t)
	require.NoError(t, sim.Engine().Bus().Publish(core.NewMessage("s1", "t1", core.TopicNote, "hello", 1)))

	resp, body := do(t, http.MethodGet, srv.URL+"/api/messages?agent_id=t1&direction=in", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []core.WorldEvent
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Message.Content)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/messages?agent_id=t1&direction=out", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/messages?direction=sideways", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/messages?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/knowledge/s1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/knowledge/nobody", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCalendarQueries(t *testing.T) {
	_, srv := newServer(t)

	for _, path := range []string{"/api/timetable", "/api/curriculum", "/api/semester"} {
		resp, body := do(t, http.MethodGet, srv.URL+path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.True(t, json.Valid(body), path)
	}
}

func TestStream(t *testing.T) {
	sim, srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	received := make(chan core.WorldEvent, 1)
	go func() {
		var ev core.WorldEvent
		if err := wsjson.Read(ctx, conn, &ev); err == nil {
			received <- ev
		}
	}()

	// The subscription starts once the server accepted the upgrade, so keep
	// recording until the first event arrives.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev := <-received:
			assert.Equal(t, core.WorldEventSystem, ev.Kind)
			assert.Equal(t, "bell", ev.Detail)
			return
		case <-ticker.C:
			sim.Engine().Bus().Record(core.WorldEvent{Kind: core.WorldEventSystem, Detail: "bell"})
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}
