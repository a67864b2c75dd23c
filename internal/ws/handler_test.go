package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lottery_engine/internal/logbus"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) logbus.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg logbus.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandlerReplaysThenStreams(t *testing.T) {
	bus := logbus.New(10)
	defer bus.Close()
	bus.Log("info", "booted", nil)

	mux := http.NewServeMux()
	mux.Handle("/ws", NewHandler(bus, nil))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv, "")
	assert.Equal(t, "log", readMsg(t, conn).Type)

	// The subscription is registered after the replay, so keep publishing
	// until one lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				bus.Publish("run_state", map[string]any{"phase": "running"})
			}
		}
	}()
	assert.Equal(t, "run_state", readMsg(t, conn).Type)
}

func TestHandlerFiltersTypes(t *testing.T) {
	bus := logbus.New(10)
	defer bus.Close()
	bus.Log("info", "noise", nil)
	bus.Publish("run_result", map[string]any{"id": "r1"})

	mux := http.NewServeMux()
	mux.Handle("/ws", NewHandler(bus, nil))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv, "?types=run_result")
	assert.Equal(t, "run_result", readMsg(t, conn).Type)
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	bus := logbus.New(10)
	defer bus.Close()

	mux := http.NewServeMux()
	mux.Handle("/ws", NewHandler(bus, []string{"http://allowed.test"}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestParseTypes(t *testing.T) {
	f := parseTypes(" log , run_result,,")
	assert.True(t, f.match("log"))
	assert.True(t, f.match("run_result"))
	assert.False(t, f.match("run_state"))
	assert.True(t, parseTypes("").match("anything"))
}
