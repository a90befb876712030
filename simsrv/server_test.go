package simsrv

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptcchamber/chamberlab/chamber"
)

type benchStub struct {
	mu    sync.Mutex
	setpt float64
}

func (b *benchStub) GetTemperature() (float64, error) { return 21.5, nil }
func (b *benchStub) GetTemperatureSetpoint() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setpt, nil
}
func (b *benchStub) SetTemperatureSetpoint(v float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setpt = v
	return nil
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestWebsocketStatusAndCommands(t *testing.T) {
	srv := New(20*time.Millisecond, quietLogger())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dial(t, ts, "/ws")
	defer conn.Close()

	var first map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Contains(t, first, "fan_speed_percent")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("bogus")))
	for {
		var m map[string]interface{}
		require.NoError(t, conn.ReadJSON(&m))
		if lines, ok := m["console"]; ok {
			assert.Equal(t, []interface{}{"Error: Unknown command 'bogus'"}, lines)
			break
		}
	}

	assert.Eventually(t, func() bool {
		_, body := get(t, ts.URL+"/metrics")
		return strings.Contains(body, `chambersim_commands_total{verb="unknown"} 1`) &&
			strings.Contains(body, "chambersim_sessions 1")
	}, time.Second, 10*time.Millisecond)
}

func TestSessionsAreIndependent(t *testing.T) {
	srv := New(time.Hour, quietLogger())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	a := dial(t, ts, "/")
	defer a.Close()
	b := dial(t, ts, "/ws")
	defer b.Close()

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("pid_tune -t 55")))
	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte("get_status")))

	var st chamber.Status
	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, b.ReadJSON(&st))
	assert.Equal(t, 37.0, st.TargetTemperature)
}

func TestDisconnectReleasesSession(t *testing.T) {
	srv := New(10*time.Millisecond, quietLogger())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dial(t, ts, "/ws")
	assert.Eventually(t, func() bool {
		_, body := get(t, ts.URL+"/metrics")
		return strings.Contains(body, "chambersim_sessions 1")
	}, time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool {
		_, body := get(t, ts.URL+"/metrics")
		return strings.Contains(body, "chambersim_sessions 0")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListOfRoutesWithBench(t *testing.T) {
	bench := &benchStub{}
	srv := New(time.Hour, quietLogger(), WithBench(bench))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	code, body := get(t, ts.URL+"/list-of-routes")
	require.Equal(t, http.StatusOK, code)
	var routes []string
	require.NoError(t, json.Unmarshal([]byte(body), &routes))
	assert.Contains(t, routes, "/bench/temperature")
	assert.Contains(t, routes, "/bench/temperature-setpoint")
	assert.Contains(t, routes, "/bench/lock")
	assert.Contains(t, routes, "/ws")
	assert.Contains(t, routes, "/metrics")

	code, body = get(t, ts.URL+"/bench/temperature")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"f64":21.5}`, body)
}

func TestBenchLock(t *testing.T) {
	bench := &benchStub{}
	srv := New(time.Hour, quietLogger(), WithBench(bench))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	srv.Lock().Lock()
	resp, err := http.Post(ts.URL+"/bench/temperature-setpoint", "application/json", strings.NewReader(`{"f64":48}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	srv.Lock().Unlock()
	resp, err = http.Post(ts.URL+"/bench/temperature-setpoint", "application/json", strings.NewReader(`{"f64":48}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	v, _ := bench.GetTemperatureSetpoint()
	assert.Equal(t, 48.0, v)
}

func TestStaticUI(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("chamber ui"), 0o644))
	srv := New(time.Hour, quietLogger(), WithStatic(dir))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	code, body := get(t, ts.URL+"/ui/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "chamber ui", body)

	// a browser hitting the websocket root is sent to the front-end
	code, body = get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "chamber ui", body)

	code, _ = get(t, ts.URL+"/ui/../../etc/passwd")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMirrorDropsWhenFull(t *testing.T) {
	m := NewMQTTMirror(nil, "", quietLogger())
	for i := 0; i < mirrorBacklog+10; i++ {
		m.Publish("abc", chamber.Status{})
	}
	assert.Len(t, m.out, mirrorBacklog)
	msg := <-m.out
	assert.Equal(t, "chamber/abc/status", msg.Topic)
}
