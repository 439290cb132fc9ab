// Package tcp provides raw-TCP Acceptor and Connector endpoints. Messages
// are framed with a 4-byte big-endian length prefix so the stream carries
// the same discrete text payloads as the websocket substrate.
package tcp

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/vizlink/vizlink/pkg/endpoint"
	"github.com/vizlink/vizlink/pkg/log"
)

// setNoDelay disables Nagle's algorithm on TCP connections.
func setNoDelay(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
}

func writeFrame(conn net.Conn, mu *sync.Mutex, data []byte) error {
	mu.Lock()
	defer mu.Unlock()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}

func readFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)

	data := make([]byte, length)
	if _, err := io.ReadFull(conn, data); err != nil {
		return nil, err
	}
	return data, nil
}

type peer struct {
	conn net.Conn
	mu   sync.Mutex
}

// Acceptor is the accepting-side endpoint over raw TCP.
type Acceptor struct {
	*endpoint.Dispatcher
	conf AcceptorConfig

	mu       sync.Mutex
	running  bool
	peers    map[*peer]struct{}
	changed  chan struct{}
	listener net.Listener
	port     int
	wg       sync.WaitGroup
}

type AcceptorConfig struct {
	Logger log.Logger
}

func NewAcceptor(conf AcceptorConfig) *Acceptor {
	return &Acceptor{
		Dispatcher: endpoint.NewDispatcher("tcp-acceptor", conf.Logger),
		conf:       conf,
		peers:      make(map[*peer]struct{}),
		changed:    make(chan struct{}),
	}
}

// Serve binds the address and starts accepting connections. Port 0 binds an
// ephemeral port; Port reports the bound one.
func (a *Acceptor) Serve(addr string, port int) bool {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.logError("acceptor is already serving")
		return false
	}

	l, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		a.mu.Unlock()
		a.logError("failed to listen: " + err.Error())
		return false
	}

	a.listener = l
	a.port = l.Addr().(*net.TCPAddr).Port
	a.running = true
	a.mu.Unlock()

	a.Dispatcher.Start()

	a.wg.Add(1)
	go a.acceptLoop()

	return true
}

func (a *Acceptor) acceptLoop() {
	defer a.wg.Done()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			a.logWarn("accept error: " + err.Error())
			continue
		}
		setNoDelay(conn)

		p := &peer{conn: conn}

		a.mu.Lock()
		if !a.running {
			a.mu.Unlock()
			conn.Close()
			return
		}
		a.peers[p] = struct{}{}
		a.signalLocked()
		a.wg.Add(1)
		a.mu.Unlock()

		a.logDebug("connection opened")

		go a.readPump(p)
	}
}

func (a *Acceptor) readPump(p *peer) {
	defer a.wg.Done()

	for {
		data, err := readFrame(p.conn)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				a.logDebug("connection closed")
			} else {
				a.logWarn("connection read error: " + err.Error())
			}
			break
		}
		a.Enqueue(data)
	}

	p.conn.Close()

	a.mu.Lock()
	delete(a.peers, p)
	a.signalLocked()
	a.mu.Unlock()
}

// Send broadcasts to every connected peer, best effort: per-peer failures
// are logged, false means there was nobody to send to.
func (a *Acceptor) Send(message []byte) bool {
	a.mu.Lock()
	if len(a.peers) == 0 {
		a.mu.Unlock()
		return false
	}
	peers := make([]*peer, 0, len(a.peers))
	for p := range a.peers {
		peers = append(peers, p)
	}
	a.mu.Unlock()

	for _, p := range peers {
		if err := writeFrame(p.conn, &p.mu, message); err != nil {
			a.logWarn("failed to send message to peer: " + err.Error())
		}
	}
	return true
}

func (a *Acceptor) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.peers) > 0
}

func (a *Acceptor) WaitConnection(timeout time.Duration) bool {
	return a.waitPeers(timeout, func(n int) bool { return n > 0 })
}

// WaitDisconnect blocks until no peers remain connected or the timeout
// elapses.
func (a *Acceptor) WaitDisconnect(timeout time.Duration) bool {
	return a.waitPeers(timeout, func(n int) bool { return n == 0 })
}

func (a *Acceptor) waitPeers(timeout time.Duration, ok func(int) bool) bool {
	deadline := time.Now().Add(timeout)

	a.mu.Lock()
	for !ok(len(a.peers)) {
		ch := a.changed
		a.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			a.mu.Lock()
			satisfied := ok(len(a.peers))
			a.mu.Unlock()
			return satisfied
		}
		a.mu.Lock()
	}
	a.mu.Unlock()
	return true
}

func (a *Acceptor) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port
}

// Stop closes the listener and every peer connection, joins the I/O
// goroutines, then stops the dispatch engine. Idempotent.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	listener := a.listener
	peers := make([]*peer, 0, len(a.peers))
	for p := range a.peers {
		peers = append(peers, p)
	}
	a.signalLocked()
	a.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, p := range peers {
		p.conn.Close()
	}

	a.wg.Wait()
	a.Dispatcher.Stop()
}

func (a *Acceptor) signalLocked() {
	close(a.changed)
	a.changed = make(chan struct{})
}

func (a *Acceptor) logDebug(msg string) {
	if a.conf.Logger != nil {
		a.conf.Logger.Debug("[" + a.Name() + "] " + msg)
	}
}

func (a *Acceptor) logWarn(msg string) {
	if a.conf.Logger != nil {
		a.conf.Logger.Warn("[" + a.Name() + "] " + msg)
	}
}

func (a *Acceptor) logError(msg string) {
	if a.conf.Logger != nil {
		a.conf.Logger.Error("[" + a.Name() + "] " + msg)
	}
}

// Connector is the connecting-side endpoint over raw TCP.
type Connector struct {
	*endpoint.Dispatcher
	conf ConnectorConfig

	mu        sync.Mutex
	running   bool
	connected bool
	conn      net.Conn
	changed   chan struct{}
	wg        sync.WaitGroup

	writeMu sync.Mutex
}

type ConnectorConfig struct {
	DialTimeout time.Duration // Zero means no dial timeout
	Logger      log.Logger
}

func NewConnector(conf ConnectorConfig) *Connector {
	return &Connector{
		Dispatcher: endpoint.NewDispatcher("tcp-connector", conf.Logger),
		conf:       conf,
		changed:    make(chan struct{}),
	}
}

// Connect dials host:port. On failure the cause is logged, no goroutines are
// left running, and the result is false.
func (c *Connector) Connect(host string, port int) bool {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logError("connector is already connected")
		return false
	}
	c.running = true
	c.mu.Unlock()

	target := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", target, c.conf.DialTimeout)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.logError("failed to connect to " + target + ": " + err.Error())
		return false
	}
	setNoDelay(conn)

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

func (c *Connector) readPump(conn net.Conn) {
	defer c.wg.Done()

	for {
		data, err := readFrame(conn)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
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

	if err := writeFrame(conn, &c.writeMu, message); err != nil {
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
