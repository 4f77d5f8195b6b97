package factories

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/capture"
	"stride/core"
	"stride/runs"
	"stride/voicechat"
)

type nullMic struct{}

func (nullMic) Open(context.Context, capture.Constraints) (capture.Stream, error) {
	return nil, errors.New("no microphone in tests")
}

type nullSpeaker struct{}

func (nullSpeaker) Open(int) error { return nil }

func (nullSpeaker) Play([]float32) (<-chan struct{}, error) {
	done := make(chan struct{})
	close(done)
	return done, nil
}

// coachServer serves the chat socket and the runs endpoint.
type coachServer struct {
	*httptest.Server
	mu       sync.Mutex
	conn     *websocket.Conn
	runsHits int
}

func newCoachServer(t *testing.T) *coachServer {
	cs := &coachServer{}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs.mu.Lock()
		cs.conn = conn
		cs.mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/api/users/1/runs", func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.runsHits++
		cs.mu.Unlock()
		w.Write([]byte(`[{"id":1,"distance_miles":5,"duration_minutes":42,"run_date":"2026-10-15"}]`))
	})
	cs.Server = httptest.NewServer(mux)
	t.Cleanup(cs.Server.Close)
	return cs
}

func (cs *coachServer) push(t *testing.T, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.conn != nil
	}, time.Second, 5*time.Millisecond)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	require.NoError(t, cs.conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestBuildSession_RejectsInvalidSettings(t *testing.T) {
	s := DefaultSettings()
	s.UserID = ""
	_, err := BuildSession(context.Background(), s, voicechat.Devices{Microphone: nullMic{}, Speaker: nullSpeaker{}}, core.NewNopLogger(), nil)
	assert.Error(t, err)
}

func TestBuildSession_RequiresDevices(t *testing.T) {
	_, err := BuildSession(context.Background(), DefaultSettings(), voicechat.Devices{}, core.NewNopLogger(), nil)
	assert.Error(t, err)
}

func TestBuildSession_FunctionCallRefreshesRuns(t *testing.T) {
	cs := newCoachServer(t)
	s := DefaultSettings()
	s.ServerURL = cs.URL
	s.LogDir = t.TempDir()

	got := make(chan []runs.Run, 1)
	sess, err := BuildSession(context.Background(), s, voicechat.Devices{Microphone: nullMic{}, Speaker: nullSpeaker{}}, core.NewNopLogger(), func(r []runs.Run) {
		select {
		case got <- r:
		default:
		}
	})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Client.Connect(context.Background()))
	cs.push(t, `{"type":"function_call","name":"log_run","arguments":{"distance_miles":5},"result":{"success":true}}`)

	select {
	case r := <-got:
		require.Len(t, r, 1)
		assert.Equal(t, 5.0, r[0].DistanceMiles)
	case <-time.After(2 * time.Second):
		t.Fatal("runs were not refreshed")
	}
	assert.Len(t, sess.Client.Snapshot().FunctionCalls, 1)
}

func TestBuildSession_WritesSessionLog(t *testing.T) {
	cs := newCoachServer(t)
	s := DefaultSettings()
	s.ServerURL = cs.URL
	s.LogDir = t.TempDir()

	sess, err := BuildSession(context.Background(), s, voicechat.Devices{Microphone: nullMic{}, Speaker: nullSpeaker{}}, core.NewNopLogger(), nil)
	require.NoError(t, err)

	path := sess.LogPath()
	require.NotEmpty(t, path)
	assert.Contains(t, path, sess.Client.SessionID())

	require.NoError(t, sess.Client.Connect(context.Background()))
	sess.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NotEmpty(t, lines)
	assert.True(t, strings.Contains(lines[0], `"session_id":"`+sess.Client.SessionID()+`"`))
	assert.Greater(t, len(lines), 1)
}

func TestBuildSession_NoLogDir(t *testing.T) {
	s := DefaultSettings()
	sess, err := BuildSession(context.Background(), s, voicechat.Devices{Microphone: nullMic{}, Speaker: nullSpeaker{}}, core.NewNopLogger(), nil)
	require.NoError(t, err)
	defer sess.Close()
	assert.Empty(t, sess.LogPath())
}
