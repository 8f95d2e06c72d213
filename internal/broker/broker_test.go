package broker

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/pkg/wsrouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*Broker, string) {
	t.Helper()

	b := New(&Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(b.Mux())
	t.Cleanup(srv.Close)

	return b, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, frameType string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wsrouter.Frame{Type: frameType, Payload: data}))
}

func read(t *testing.T, conn *websocket.Conn) wsrouter.Frame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsrouter.Frame
	require.NoError(t, conn.ReadJSON(&frame))

	return frame
}

func TestHealthz(t *testing.T) {
	b := New(&Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()

	b.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestPublishFansOutToSubscribers(t *testing.T) {
	b, url := newTestBroker(t)
	owner := dial(t, url)
	guest := dial(t, url)

	send(t, owner, TypeSubscribe, TopicInput{Topic: "video.7"})
	assert.Equal(t, TypeSubscribed, read(t, owner).Type)
	send(t, guest, TypeSubscribe, TopicInput{Topic: "video.7"})
	assert.Equal(t, TypeSubscribed, read(t, guest).Type)
	require.Equal(t, 2, b.Subscribers("video.7"))

	send(t, owner, TypePublish, PublishInput{Topic: "video.7", Body: `{"type":"VIDEO_PLAY"}`})

	for _, conn := range []*websocket.Conn{owner, guest} {
		frame := read(t, conn)
		require.Equal(t, TypeMessage, frame.Type)

		var msg MessageOutput
		require.NoError(t, json.Unmarshal(frame.Payload, &msg))
		assert.Equal(t, "video.7", msg.Topic)
		assert.Equal(t, `{"type":"VIDEO_PLAY"}`, msg.Body)
	}
}

func TestUnsubscribeAndDisconnectRemoveClient(t *testing.T) {
	b, url := newTestBroker(t)
	conn := dial(t, url)

	send(t, conn, TypeSubscribe, TopicInput{Topic: "room.1"})
	read(t, conn)
	send(t, conn, TypeSubscribe, TopicInput{Topic: "video.1"})
	read(t, conn)

	send(t, conn, TypeUnsubscribe, TopicInput{Topic: "room.1"})
	require.Eventually(t, func() bool { return b.Subscribers("room.1") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, b.Subscribers("video.1"))

	conn.Close()
	require.Eventually(t, func() bool { return b.Subscribers("video.1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidFramesAnswerWithError(t *testing.T) {
	_, url := newTestBroker(t)
	conn := dial(t, url)

	send(t, conn, TypeSubscribe, TopicInput{})
	frame := read(t, conn)
	assert.Equal(t, TypeError, frame.Type)
	assert.Contains(t, string(frame.Payload), "topic is required")

	send(t, conn, "SHOUT", nil)
	assert.Equal(t, TypeError, read(t, conn).Type)
}
