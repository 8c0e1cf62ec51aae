package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/drivetrain-rt/drivetrain/internal/export"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Streamer, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := NewStreamer(nil)
	router := gin.New()
	router.GET("/stream", s.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg envelope
	require.NoError(t, sonic.Unmarshal(data, &msg))
	return msg
}

func TestGreetingOnConnect(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv)

	msg := readEnvelope(t, conn)
	assert.Equal(t, "system", msg.Type)
	assert.NotEmpty(t, msg.Message)
}

func TestBatchBroadcast(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn) // greeting

	require.Eventually(t, func() bool { return s.Subscribers() == 1 },
		time.Second, 10*time.Millisecond)

	batch := &export.Batch{
		ID: "batch_ws",
		At: time.Now().UnixNano(),
		Samples: []export.Sample{
			{Unit: "imu", Metric: export.MetricChannelDepth, Value: 2},
		},
	}
	require.NoError(t, s.Ship(context.Background(), batch))

	msg := readEnvelope(t, conn)
	assert.Equal(t, "batch", msg.Type)
	require.NotNil(t, msg.Batch)
	assert.Equal(t, "batch_ws", msg.Batch.ID)
	require.Len(t, msg.Batch.Samples, 1)
	assert.Equal(t, export.MetricChannelDepth, msg.Batch.Samples[0].Metric)
}

func TestPingPong(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn) // greeting

	ping, err := sonic.Marshal(envelope{Type: "ping"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ping))

	msg := readEnvelope(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestSlowSubscriberDropped(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn) // greeting

	require.Eventually(t, func() bool { return s.Subscribers() == 1 },
		time.Second, 10*time.Millisecond)

	// Saturate the client without reading; the streamer must shed the
	// connection instead of blocking Ship. Batches are padded so the
	// kernel socket buffers fill quickly.
	samples := make([]export.Sample, 4096)
	for i := range samples {
		samples[i] = export.Sample{Unit: "pad", Metric: export.MetricChannelDepth, Value: float64(i)}
	}
	batch := &export.Batch{ID: "batch_slow", At: time.Now().UnixNano(), Samples: samples}

	assert.Eventually(t, func() bool {
		s.Ship(context.Background(), batch)
		return s.Subscribers() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCloseDisconnectsAll(t *testing.T) {
	s, srv := newTestServer(t)
	c1 := dial(t, srv)
	c2 := dial(t, srv)
	readEnvelope(t, c1)
	readEnvelope(t, c2)

	require.Eventually(t, func() bool { return s.Subscribers() == 2 },
		time.Second, 10*time.Millisecond)

	s.Close()
	assert.Equal(t, 0, s.Subscribers())
}
