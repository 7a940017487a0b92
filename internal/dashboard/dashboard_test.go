package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
)

type fakeEngine struct {
	mu        sync.Mutex
	submitted []provider.Request
	err       error
	states    []state.FileStatus
	asked     [][]string
}

func (e *fakeEngine) Submit(_ context.Context, req provider.Request) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return 0, e.err
	}
	e.submitted = append(e.submitted, req)
	return uint64(len(e.submitted)), nil
}

func (e *fakeEngine) States(_ context.Context, paths []string) ([]state.FileStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.asked = append(e.asked, paths)
	return e.states, nil
}

func (e *fakeEngine) requests() []provider.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]provider.Request(nil), e.submitted...)
}

func (e *fakeEngine) queries() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.asked...)
}

func newTestServer(t *testing.T, engine Engine) (*Server, *Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	s := NewServer(engine, hub, Config{})
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		cancel()
		<-done
		ts.Close()
	})
	return s, hub, ts
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t, &fakeEngine{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["clients"])
}

func TestStatus(t *testing.T) {
	engine := &fakeEngine{states: []state.FileStatus{state.NewWithState("/repo/a.txt", state.Modified)}}
	_, _, ts := newTestServer(t, engine)

	resp, err := http.Get(ts.URL + "/status?path=a.txt&path=b.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		States []state.FileStatus `json:"states"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.States, 1)
	assert.Equal(t, "/repo/a.txt", body.States[0].Path)
	assert.Equal(t, state.Modified, body.States[0].Working)
	assert.Equal(t, [][]string{{"a.txt", "b.txt"}}, engine.queries())
}

func TestSubmitOperation(t *testing.T) {
	engine := &fakeEngine{}
	_, _, ts := newTestServer(t, engine)

	resp, err := http.Post(ts.URL+"/ops/check-in", "application/json",
		strings.NewReader(`{"files":["a.txt"],"description":"fix typo"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		ID   uint64        `json:"id"`
		Kind provider.Kind `json:"kind"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 1, body.ID)
	assert.Equal(t, provider.KindCheckIn, body.Kind)

	submitted := engine.requests()
	require.Len(t, submitted, 1)
	assert.Equal(t, provider.Request{
		Kind:        provider.KindCheckIn,
		Files:       []string{"a.txt"},
		Description: "fix typo",
	}, submitted[0])
}

func TestSubmitUnknownOperation(t *testing.T) {
	engine := &fakeEngine{}
	_, _, ts := newTestServer(t, engine)

	resp, err := http.Post(ts.URL+"/ops/frobnicate", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, engine.requests())
}

func TestSubmitRejected(t *testing.T) {
	engine := &fakeEngine{err: provider.ErrRejected}
	_, _, ts := newTestServer(t, engine)

	resp, err := http.Post(ts.URL+"/ops/sync", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFeedBroadcastsCompletions(t *testing.T) {
	_, hub, ts := newTestServer(t, &fakeEngine{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.CommandCompleted(7, provider.KindSync, false, []string{"boom"})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypeCommandCompleted, msg.Type)

	var completed CommandCompletedData
	require.NoError(t, json.Unmarshal(msg.Data, &completed))
	assert.Equal(t, CommandCompletedData{ID: 7, Kind: provider.KindSync, Success: false, Errors: []string{"boom"}}, completed)
}

func TestRunServesUntilCancelled(t *testing.T) {
	s := NewServer(&fakeEngine{}, NewHub(nil), Config{Port: 0})
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
