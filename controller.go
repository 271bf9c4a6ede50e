package of

import (
	"bufio"
	"bytes"
	"container/heap"
	"errors"
	"io/ioutil"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netflowctl/ofcore/ofp"
)

var (
	// ErrSendQueueFull is returned by Peer.Send/SendRequest, and
	// surfaced to ConnState, when a connection's bounded outbound
	// queue cannot absorb another message. The connection is closed
	// when this happens, matching a slow or wedged peer being treated
	// as unreachable rather than let its backlog grow without bound.
	ErrSendQueueFull = errors.New("of: send queue full")

	// ErrRequestTimeout is returned by Peer.SendRequest when no reply
	// matching the request's transaction id arrives before its
	// deadline.
	ErrRequestTimeout = errors.New("of: request timed out")

	// ErrConnClosed is returned by Peer.SendRequest when the
	// connection is closed before a reply arrives.
	ErrConnClosed = errors.New("of: connection closed")
)

// defaultMaxSendQueue bounds the number of unsent requests a
// connection will buffer before it is judged unresponsive.
const defaultMaxSendQueue = 256

// defaultRequestTimeout bounds how long Peer.SendRequest waits for a
// reply when the caller does not specify a timeout.
const defaultRequestTimeout = 10 * time.Second

// connCtx is the controller's private bookkeeping for one connection:
// its current handshake state, the table of requests awaiting a
// reply, and the bounded queue of outgoing messages. Every mutation of
// these fields happens on the owning Controller's single dispatch
// goroutine, so none of it needs its own lock.
type connCtx struct {
	ctrl *Controller
	conn *OFPConn

	state  connState
	statev int32 // atomic mirror of state, safe to read from any goroutine

	pending map[uint32]*pendingRequest

	sendCh chan *Request
	done   chan struct{}

	closeOnce sync.Once
}

func (cc *connCtx) setState(s connState) {
	cc.state = s
	atomic.StoreInt32(&cc.statev, int32(s))
}

// enqueue places req on the connection's outbound queue. When the
// queue is already full, the connection is reported to the dispatch
// goroutine for closure and ErrSendQueueFull is returned immediately;
// the caller is not blocked waiting for teardown to complete.
func (cc *connCtx) enqueue(req *Request) error {
	select {
	case cc.sendCh <- req:
		return nil
	default:
	}

	select {
	case cc.ctrl.events <- connEvent{cc: cc, err: ErrSendQueueFull}:
	default:
	}
	return ErrSendQueueFull
}

// connEvent is the single kind of value the dispatch goroutine
// consumes: a newly accepted connection, a received message, a
// connection-level error, or a request registered by Peer.SendRequest.
// Funneling all of these through one channel is what gives the
// dispatch goroutine a consistent, race-free view of each
// connection's state.
type connEvent struct {
	cc       *connCtx
	req      *Request
	err      error
	accepted bool
	register *pendingRequest
}

// Peer is a handle applications use to interact with one connected
// switch: send requests, wait for their replies, and inspect the
// handshake state. It is safe for concurrent use.
type Peer struct {
	cc *connCtx
}

// RemoteAddr returns the address of the connected switch.
func (p *Peer) RemoteAddr() net.Addr {
	return p.cc.conn.RemoteAddr()
}

// State returns the peer's current handshake state.
func (p *Peer) State() connState {
	return connState(atomic.LoadInt32(&p.cc.statev))
}

// Send queues req for transmission without waiting for a reply.
func (p *Peer) Send(req *Request) error {
	return p.cc.enqueue(req)
}

// SendRequest sends req and blocks until a reply carrying the same
// transaction id arrives, the connection closes, or timeout elapses
// (defaulting to Controller.RequestTimeout, or 10s). req.Header.XID is
// overwritten with a freshly allocated transaction id.
//
// SendRequest must not be called from within a Handler callback:
// callbacks run on the controller's single dispatch goroutine, and
// that same goroutine is the one that would have to deliver the
// reply, so a synchronous wait there deadlocks. Use Peer.Send from a
// callback, or spawn a goroutine.
func (p *Peer) SendRequest(req *Request, timeout time.Duration) (*Request, error) {
	cc := p.cc
	c := cc.ctrl

	if timeout <= 0 {
		timeout = c.requestTimeout()
	}

	xid := c.xids.Next()
	req.Header.XID = xid

	reply := make(chan *Request, 1)
	pr := &pendingRequest{
		xid:      xid,
		reply:    reply,
		cc:       cc,
		index:    -1,
		deadline: time.Now().Add(timeout),
	}

	// Registering before the write goes out, and on the same channel
	// requests arrive on, guarantees the entry exists in cc.pending
	// before any reply to it can possibly be read back.
	c.events <- connEvent{cc: cc, register: pr}

	if err := cc.enqueue(req); err != nil {
		return nil, err
	}

	r, ok := <-reply
	if !ok {
		if !time.Now().Before(pr.deadline) {
			return nil, ErrRequestTimeout
		}
		return nil, ErrConnClosed
	}
	return r, nil
}

// Close closes the peer's connection.
func (p *Peer) Close() error {
	p.cc.ctrl.events <- connEvent{cc: p.cc, err: ErrConnClosed}
	return nil
}

// ctrlResponse is the ResponseWriter a Controller hands to its
// Handler: unlike Server's response, writes are queued onto the
// connection's bounded send queue rather than written to the wire
// directly, so a Handler's replies are subject to the same backpressure
// as controller-initiated requests.
type ctrlResponse struct {
	header header
	cc     *connCtx
	buf    bytes.Buffer
}

func (w *ctrlResponse) Header() Header {
	return &w.header
}

func (w *ctrlResponse) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

func (w *ctrlResponse) WriteHeader() error {
	req := &Request{Header: w.header, Body: bytes.NewReader(w.buf.Bytes())}
	return w.cc.enqueue(req)
}

func (w *ctrlResponse) Close() error {
	return w.cc.conn.Close()
}

func (w *ctrlResponse) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.cc.conn.Hijack()
}

// Controller accepts OpenFlow switch connections, drives the
// connection handshake automatically, and dispatches application
// messages received once a connection reaches StateReady to Handler.
//
// All handshake transitions, pending-request bookkeeping, and Handler
// invocations happen on a single goroutine per Controller, serializing
// everything the cooperative model requires without needing locks
// around connection state.
type Controller struct {
	Addr    string
	Handler Handler

	// MaxSendQueue bounds the number of messages buffered per
	// connection before it is treated as unresponsive and closed.
	// Defaults to 256.
	MaxSendQueue int

	// RequestTimeout is the default Peer.SendRequest timeout used when
	// callers pass zero. Defaults to 10s.
	RequestTimeout time.Duration

	// ConnState, when set, is invoked on the dispatch goroutine every
	// time a connection's handshake state changes, starting with
	// StateConnected when the connection is accepted and including the
	// terminal StateClosing transition.
	ConnState func(*Peer, connState)

	// Log receives connection lifecycle and error events. Defaults to
	// logrus.StandardLogger() when nil.
	Log *logrus.Logger

	xids xidGenerator

	mu    sync.Mutex
	conns map[*connCtx]struct{}

	events  chan connEvent
	timers  timerQueue
	started sync.Once
}

func (c *Controller) logger() *logrus.Logger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}

func (c *Controller) maxSendQueue() int {
	if c.MaxSendQueue > 0 {
		return c.MaxSendQueue
	}
	return defaultMaxSendQueue
}

func (c *Controller) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return defaultRequestTimeout
}

func (c *Controller) ensureStarted() {
	c.started.Do(func() {
		c.events = make(chan connEvent, 64)
		c.conns = make(map[*connCtx]struct{})
		go c.dispatch()
	})
}

// ListenAndServe listens on c.Addr and serves incoming connections.
func (c *Controller) ListenAndServe() error {
	ln, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return err
	}
	return c.Serve(ln)
}

// Serve accepts connections on l until it returns an error, handing
// each to the controller's handshake automaton and, once ready, to
// Handler.
func (c *Controller) Serve(l net.Listener) error {
	c.ensureStarted()
	defer l.Close()

	for {
		rwc, err := l.Accept()
		if err != nil {
			return err
		}

		c.accept(rwc)
	}
}

func (c *Controller) accept(rwc net.Conn) *Peer {
	conn := NewConn(rwc)

	cc := &connCtx{
		ctrl:    c,
		conn:    conn,
		pending: make(map[uint32]*pendingRequest),
		sendCh:  make(chan *Request, c.maxSendQueue()),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.conns[cc] = struct{}{}
	c.mu.Unlock()

	// Order matters: the accepted event must reach the dispatch
	// goroutine before either loop can possibly enqueue an event of
	// its own, or a message read before the handshake is known to
	// have started could race ahead of it.
	c.events <- connEvent{cc: cc, accepted: true}

	go c.writeLoop(cc)
	go c.readLoop(cc)

	return &Peer{cc: cc}
}

func (c *Controller) writeLoop(cc *connCtx) {
	for {
		select {
		case req, ok := <-cc.sendCh:
			if !ok {
				return
			}
			if err := cc.conn.Send(req); err != nil {
				c.events <- connEvent{cc: cc, err: err}
				return
			}
			if err := cc.conn.Flush(); err != nil {
				c.events <- connEvent{cc: cc, err: err}
				return
			}
		case <-cc.done:
			return
		}
	}
}

func (c *Controller) readLoop(cc *connCtx) {
	for {
		req, err := cc.conn.Receive()
		if err != nil {
			c.events <- connEvent{cc: cc, err: err}
			return
		}
		c.events <- connEvent{cc: cc, req: req}
	}
}

// dispatch is the controller's single scheduler goroutine: it selects
// over the shared event channel and a timer armed for the earliest
// pending-request deadline, applying every state transition and
// Handler invocation itself.
func (c *Controller) dispatch() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-timer.C:
			c.expireTimers()
		}
		c.rearm(timer)
	}
}

func (c *Controller) rearm(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	if len(c.timers) == 0 {
		timer.Reset(time.Hour)
		return
	}

	d := time.Until(c.timers[0].deadline)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (c *Controller) expireTimers() {
	now := time.Now()
	for len(c.timers) > 0 && !c.timers[0].deadline.After(now) {
		pr := heap.Pop(&c.timers).(*pendingRequest)
		delete(pr.cc.pending, pr.xid)
		close(pr.reply)
	}
}

func (c *Controller) handleEvent(ev connEvent) {
	cc := ev.cc

	if ev.register != nil {
		cc.pending[ev.register.xid] = ev.register
		heap.Push(&c.timers, ev.register)
		return
	}

	if ev.accepted {
		c.onAccept(cc)
		return
	}

	if ev.err != nil {
		c.closeConn(cc, ev.err)
		return
	}

	req := ev.req

	if pr, ok := cc.pending[req.Header.XID]; ok {
		delete(cc.pending, req.Header.XID)
		if pr.index >= 0 {
			heap.Remove(&c.timers, pr.index)
		}
		pr.reply <- req
		close(pr.reply)
		return
	}

	switch req.Header.Type {
	case TypeHello:
		c.handleHello(cc, req)
		return
	case TypeEchoRequest:
		c.autoEchoReply(cc, req)
		return
	case TypeFeaturesReply:
		if cc.state == StateFeaturesRequested {
			c.setState(cc, StateReady)
		}
	}

	if cc.state != StateReady || c.Handler == nil {
		return
	}

	rw := &ctrlResponse{cc: cc}
	c.Handler.Serve(rw, req)
}

func (c *Controller) setState(cc *connCtx, s connState) {
	if err := transition(&cc.state, s); err != nil {
		c.logger().WithError(err).Debug("of: dropped invalid state transition")
		return
	}
	atomic.StoreInt32(&cc.statev, int32(cc.state))
	c.notifyState(cc)
}

func (c *Controller) notifyState(cc *connCtx) {
	if c.ConnState != nil {
		c.ConnState(&Peer{cc: cc}, connState(atomic.LoadInt32(&cc.statev)))
	}
}

func (c *Controller) onAccept(cc *connCtx) {
	cc.setState(StateConnected)
	c.notifyState(cc)

	req, _ := NewRequest(TypeHello, nil)
	if err := cc.enqueue(req); err != nil {
		return
	}
	c.setState(cc, StateHelloSent)
}

// supportedVersion is the only OpenFlow wire version this controller
// speaks: 1.3, encoded as ProtoMajor<<0 + ProtoMinor the way NewRequest
// builds it (1+3 = 4).
const supportedVersion = 4

func (c *Controller) handleHello(cc *connCtx, req *Request) {
	switch cc.state {
	case StateConnected, StateHelloSent:
	default:
		c.closeConn(cc, errUnexpectedHello)
		return
	}

	if !c.helloCompatible(req) {
		c.sendError(cc, req, ofp.ErrTypeHelloFailed, ofp.ErrCodeHelloFailedIncompatible)
		c.closeConn(cc, errIncompatibleHello)
		return
	}

	c.setState(cc, StateHelloReceived)
	c.requestFeatures(cc)
}

// helloCompatible reports whether the peer's Hello advertises support
// for supportedVersion, either directly in the header or, when
// present, via a HELLO_ELEM_VERSIONBITMAP element. A Hello with no
// bitmap element only asserts the header version, per the version
// negotiation algorithm in the OpenFlow wire protocol.
func (c *Controller) helloCompatible(req *Request) bool {
	var hello ofp.Hello
	if _, err := hello.ReadFrom(req.Body); err != nil {
		// No body (or a malformed one): fall back to the header
		// version alone, matching pre-1.3.1 Hello messages.
		return req.Header.Version == supportedVersion
	}

	for _, elem := range hello.Elements {
		bitmap, ok := elem.(*ofp.HelloElemVersionBitmap)
		if !ok {
			continue
		}

		idx, bit := supportedVersion/32, uint(supportedVersion%32)
		if idx < len(bitmap.Bitmaps) && bitmap.Bitmaps[idx]&(1<<bit) != 0 {
			return true
		}
		return false
	}

	return req.Header.Version >= supportedVersion
}

// sendError queues an OF error reply carrying failed's transaction id,
// the way the wire protocol requires error messages to be paired with
// the request that caused them.
func (c *Controller) sendError(cc *connCtx, failed *Request, errType ofp.ErrType, code ofp.ErrCode) {
	var buf bytes.Buffer
	if _, err := (&ofp.Error{Type: errType, Code: code}).WriteTo(&buf); err != nil {
		return
	}

	reply, _ := NewRequest(TypeError, bytes.NewReader(buf.Bytes()))
	reply.Header.XID = failed.Header.XID
	cc.enqueue(reply)
}

var (
	errUnexpectedHello   = errors.New("of: unexpected hello message")
	errIncompatibleHello = errors.New("of: incompatible hello version")
)

func (c *Controller) requestFeatures(cc *connCtx) {
	req, _ := NewRequest(TypeFeaturesRequest, nil)
	req.Header.XID = c.xids.Next()

	if err := cc.enqueue(req); err != nil {
		return
	}
	c.setState(cc, StateFeaturesRequested)
}

func (c *Controller) autoEchoReply(cc *connCtx, req *Request) {
	body, _ := ioutil.ReadAll(req.Body)

	reply, _ := NewRequest(TypeEchoReply, bytes.NewReader(body))
	reply.Header.XID = req.Header.XID
	cc.enqueue(reply)
}

func (c *Controller) closeConn(cc *connCtx, err error) {
	cc.closeOnce.Do(func() {
		cc.setState(StateClosing)

		for xid, pr := range cc.pending {
			if pr.index >= 0 {
				heap.Remove(&c.timers, pr.index)
			}
			close(pr.reply)
			delete(cc.pending, xid)
		}

		close(cc.done)
		cc.conn.Close()

		c.mu.Lock()
		delete(c.conns, cc)
		c.mu.Unlock()

		c.logger().WithError(err).Debug("of: connection closed")
		c.notifyState(cc)
	})
}
