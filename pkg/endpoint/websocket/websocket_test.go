package websocket_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizlink/vizlink/pkg/endpoint/websocket"
)

func startedPair(t *testing.T) (*websocket.Acceptor, *websocket.Connector) {
	t.Helper()

	acceptor := websocket.NewAcceptor(websocket.AcceptorConfig{})
	require.True(t, acceptor.Serve("127.0.0.1", 0))
	t.Cleanup(acceptor.Stop)
	require.Greater(t, acceptor.Port(), 0)

	connector := websocket.NewConnector(websocket.ConnectorConfig{})
	require.True(t, connector.Connect(fmt.Sprintf("ws://127.0.0.1:%d/rpc", acceptor.Port())))
	t.Cleanup(connector.Stop)

	return acceptor, connector
}

func TestServeAndConnect(t *testing.T) {
	acceptor, connector := startedPair(t)

	assert.True(t, acceptor.WaitConnection(2*time.Second))
	assert.True(t, connector.WaitConnection(2*time.Second))
	assert.True(t, acceptor.IsConnected())
	assert.True(t, connector.IsConnected())
}

func TestConnectFailure(t *testing.T) {
	// Grab an ephemeral port and close it again so nothing is listening.
	acceptor := websocket.NewAcceptor(websocket.AcceptorConfig{})
	require.True(t, acceptor.Serve("127.0.0.1", 0))
	port := acceptor.Port()
	acceptor.Stop()

	connector := websocket.NewConnector(websocket.ConnectorConfig{
		HandshakeTimeout: time.Second,
	})
	assert.False(t, connector.Connect(fmt.Sprintf("ws://127.0.0.1:%d/rpc", port)))
	assert.False(t, connector.IsConnected())

	// A failed connect leaves nothing running; Stop is still safe.
	connector.Stop()
}

func TestWaitConnectionTimeout(t *testing.T) {
	acceptor := websocket.NewAcceptor(websocket.AcceptorConfig{})
	require.True(t, acceptor.Serve("127.0.0.1", 0))
	defer acceptor.Stop()

	start := time.Now()
	assert.False(t, acceptor.WaitConnection(100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestSendOrderingServerToClient(t *testing.T) {
	acceptor, connector := startedPair(t)
	require.True(t, acceptor.WaitConnection(2*time.Second))

	const n = 50
	received := make(chan string, n)
	connector.RegisterCallback("collector", func(message []byte) {
		received <- string(message)
	})

	for i := 0; i < n; i++ {
		require.True(t, acceptor.Send([]byte(fmt.Sprintf("message-%d", i))))
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-received:
			assert.Equal(t, fmt.Sprintf("message-%d", i), got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestSendOrderingClientToServer(t *testing.T) {
	acceptor, connector := startedPair(t)
	require.True(t, connector.WaitConnection(2*time.Second))

	const n = 50
	received := make(chan string, n)
	acceptor.RegisterCallback("collector", func(message []byte) {
		received <- string(message)
	})

	for i := 0; i < n; i++ {
		require.True(t, connector.Send([]byte(fmt.Sprintf("message-%d", i))))
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-received:
			assert.Equal(t, fmt.Sprintf("message-%d", i), got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestBroadcastWithNoPeers(t *testing.T) {
	acceptor := websocket.NewAcceptor(websocket.AcceptorConfig{})
	require.True(t, acceptor.Serve("127.0.0.1", 0))
	defer acceptor.Stop()

	assert.False(t, acceptor.Send([]byte("nobody home")))
}

func TestBroadcastToMultiplePeers(t *testing.T) {
	acceptor := websocket.NewAcceptor(websocket.AcceptorConfig{})
	require.True(t, acceptor.Serve("127.0.0.1", 0))
	defer acceptor.Stop()

	url := fmt.Sprintf("ws://127.0.0.1:%d/rpc", acceptor.Port())

	first := websocket.NewConnector(websocket.ConnectorConfig{})
	require.True(t, first.Connect(url))
	defer first.Stop()

	second := websocket.NewConnector(websocket.ConnectorConfig{})
	require.True(t, second.Connect(url))
	defer second.Stop()

	firstCh := make(chan string, 1)
	first.RegisterCallback("collector", func(message []byte) {
		firstCh <- string(message)
	})
	secondCh := make(chan string, 1)
	second.RegisterCallback("collector", func(message []byte) {
		secondCh <- string(message)
	})

	require.True(t, first.WaitConnection(2*time.Second))
	require.True(t, second.WaitConnection(2*time.Second))

	// Both connectors must be registered on the acceptor before sending.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !acceptor.IsConnected() {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, acceptor.Send([]byte("hello all")))

	for name, ch := range map[string]chan string{"first": firstCh, "second": secondCh} {
		select {
		case got := <-ch:
			assert.Equal(t, "hello all", got, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("connector %s never received the broadcast", name)
		}
	}
}

func TestWaitDisconnect(t *testing.T) {
	acceptor, connector := startedPair(t)
	require.True(t, acceptor.WaitConnection(2*time.Second))

	connector.Stop()
	assert.True(t, acceptor.WaitDisconnect(2*time.Second))
	assert.False(t, acceptor.IsConnected())
}

func TestStopIdempotent(t *testing.T) {
	acceptor, connector := startedPair(t)

	connector.Stop()
	connector.Stop()
	acceptor.Stop()
	acceptor.Stop()

	connector.UnregisterCallback("never-registered")
}

func TestServeTwiceFails(t *testing.T) {
	acceptor := websocket.NewAcceptor(websocket.AcceptorConfig{})
	require.True(t, acceptor.Serve("127.0.0.1", 0))
	defer acceptor.Stop()

	assert.False(t, acceptor.Serve("127.0.0.1", 0))
}
