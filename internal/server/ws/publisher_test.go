package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/alerts"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, p *Publisher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count %d, want %d", p.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	defer p.Close()
	srv := httptest.NewServer(p)
	defer srv.Close()

	one := dial(t, srv)
	two := dial(t, srv)
	waitForClients(t, p, 2)

	sent := alerts.Alert{
		ID:       "ALT-1",
		Severity: alerts.SeverityWarning,
		Code:     alerts.CodeLowLiquidity,
		Message:  "only one bid received",
	}
	p.Publish(sent)

	for _, conn := range []*websocket.Conn{one, two} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var got alerts.Alert
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, alerts.CodeLowLiquidity, got.Code)
	}
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	defer p.Close()
	srv := httptest.NewServer(p)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, p, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, p, 0)

	// Publishing into an empty set is a no-op.
	p.Publish(alerts.Alert{ID: "ALT-2", Code: alerts.CodeSystemFrozen})
}

func TestCloseDisconnectsClients(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	srv := httptest.NewServer(p)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, p, 1)

	p.Close()
	waitForClients(t, p, 0)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server side closed the connection")
}
