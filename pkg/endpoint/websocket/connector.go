package websocket

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vizlink/vizlink/pkg/endpoint"
	"github.com/vizlink/vizlink/pkg/log"
)

// Connector is the connecting-side endpoint. It owns at most one connection.
type Connector struct {
	*endpoint.Dispatcher
	conf ConnectorConfig

	mu        sync.Mutex
	running   bool
	connected bool
	conn      *websocket.Conn
	changed   chan struct{}
	wg        sync.WaitGroup

	writeMu sync.Mutex
}

type ConnectorConfig struct {
	TLSConfig        *tls.Config   // Optional: enables wss:// targets
	HandshakeTimeout time.Duration // Zero means no handshake timeout
	Logger           log.Logger
}

func NewConnector(conf ConnectorConfig) *Connector {
	return &Connector{
		Dispatcher: endpoint.NewDispatcher("websocket-connector", conf.Logger),
		conf:       conf,
		changed:    make(chan struct{}),
	}
}

// Connect dials a ws:// or wss:// URL. On failure the cause is logged, no
// goroutines are left running, and the result is false.
func (c *Connector) Connect(rawURL string) bool {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logError("connector is already connected")
		return false
	}
	c.running = true
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.conf.HandshakeTimeout,
		TLSClientConfig:  c.conf.TLSConfig,
	}

	conn, _, err := dialer.Dial(rawURL, nil)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.logError("failed to connect to " + rawURL + ": " + err.Error())
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.signalLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.logDebug("connection opened")

	c.Dispatcher.Start()
	go c.readPump(conn)

	return true
}

// readPump is the connection's I/O loop; it only enqueues.
func (c *Connector) readPump(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logDebug("connection closed")
			} else {
				c.logWarn("connection read error: " + err.Error())
			}
			break
		}
		c.Enqueue(data)
	}

	c.mu.Lock()
	c.connected = false
	c.signalLocked()
	c.mu.Unlock()
}

func (c *Connector) Send(message []byte) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return false
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, message)
	c.writeMu.Unlock()

	if err != nil {
		c.logWarn("failed to send message to server: " + err.Error())
		return false
	}
	return true
}

func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connector) WaitConnection(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	c.mu.Lock()
	for !c.connected {
		ch := c.changed
		c.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			c.mu.Lock()
			connected := c.connected
			c.mu.Unlock()
			return connected
		}
		c.mu.Lock()
	}
	c.mu.Unlock()
	return true
}

// Stop closes the connection, joins the I/O goroutine, then stops the
// dispatch engine. Idempotent.
func (c *Connector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		conn.Close()
	}

	c.wg.Wait()
	c.Dispatcher.Stop()
}

func (c *Connector) signalLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Connector) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug("[" + c.Name() + "] " + msg)
	}
}

func (c *Connector) logWarn(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Warn("[" + c.Name() + "] " + msg)
	}
}

func (c *Connector) logError(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error("[" + c.Name() + "] " + msg)
	}
}
