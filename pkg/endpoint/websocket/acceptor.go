// Package websocket provides the websocket Acceptor and Connector
// endpoints, carrying the protocol as UTF-8 text frames.
package websocket

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vizlink/vizlink/pkg/endpoint"
	"github.com/vizlink/vizlink/pkg/log"
)

const DefaultPath = "/rpc"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser pages are served from a different origin than the socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	p.conn.Close()
}

// Acceptor is the accepting-side endpoint. It serves any number of peers
// concurrently; Send broadcasts to all of them.
type Acceptor struct {
	*endpoint.Dispatcher
	conf AcceptorConfig

	mu       sync.Mutex
	running  bool
	peers    map[*peer]struct{}
	changed  chan struct{}
	listener net.Listener
	server   *http.Server
	port     int
	wg       sync.WaitGroup
}

type AcceptorConfig struct {
	Path     string // Defaults to DefaultPath
	CertFile string // Optional: for TLS
	KeyFile  string // Optional: for TLS
	Logger   log.Logger
}

func NewAcceptor(conf AcceptorConfig) *Acceptor {
	if conf.Path == "" {
		conf.Path = DefaultPath
	}
	return &Acceptor{
		Dispatcher: endpoint.NewDispatcher("websocket-acceptor", conf.Logger),
		conf:       conf,
		peers:      make(map[*peer]struct{}),
		changed:    make(chan struct{}),
	}
}

// Serve binds the address and starts accepting connections. Port 0 binds an
// ephemeral port; Port reports the bound one. On failure the cause is logged,
// no goroutines are left running, and the result is false.
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

	mux := http.NewServeMux()
	mux.HandleFunc(a.conf.Path, a.handleUpgrade)

	a.listener = l
	a.server = &http.Server{Handler: mux}
	a.port = l.Addr().(*net.TCPAddr).Port
	a.running = true
	a.mu.Unlock()

	a.Dispatcher.Start()

	a.wg.Add(1)
	go a.serviceLoop()

	return true
}

func (a *Acceptor) serviceLoop() {
	defer a.wg.Done()

	var err error
	if a.conf.CertFile != "" && a.conf.KeyFile != "" {
		err = a.server.ServeTLS(a.listener, a.conf.CertFile, a.conf.KeyFile)
	} else {
		err = a.server.Serve(a.listener)
	}
	if err != nil && err != http.ErrServerClosed {
		a.logError("service loop error: " + err.Error())
	}
}

func (a *Acceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logWarn("failed to upgrade connection: " + err.Error())
		return
	}

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

// readPump is the per-connection I/O loop. Messages are enqueued for the
// dispatch goroutine in arrival order and never handled inline.
func (a *Acceptor) readPump(p *peer) {
	defer a.wg.Done()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
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

// Send broadcasts to every connected peer. A per-peer failure is logged and
// does not abort delivery to the rest; the result is false only when there
// were no peers at all.
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
		if err := p.send(message); err != nil {
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

// WaitConnection blocks until at least one peer is connected or the timeout
// elapses.
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

// Port reports the bound port, useful when Serve was given port 0.
func (a *Acceptor) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port
}

// Stop halts the listener and every peer connection, joins the I/O
// goroutines, then stops the dispatch engine. Idempotent.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	server := a.server
	peers := make([]*peer, 0, len(a.peers))
	for p := range a.peers {
		peers = append(peers, p)
	}
	a.signalLocked()
	a.mu.Unlock()

	if server != nil {
		server.Close()
	}
	for _, p := range peers {
		p.close()
	}

	a.wg.Wait()
	a.Dispatcher.Stop()
}

// signalLocked wakes every WaitConnection/WaitDisconnect caller. Must be
// called with mu held.
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
