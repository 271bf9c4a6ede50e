package datapath

import (
	"errors"
	"sync"
)

// ErrDeviceClosed is returned by SendFrame once a Device's Close method
// has run.
var ErrDeviceClosed = errors.New("datapath: device closed")

// FrameReceivedFunc is invoked for every frame a Device delivers, in
// arrival order: from a private reader goroutine for RawSocketFrameIO,
// and from the sending goroutine for LoopbackFrameIO. Receivers that keep
// the slice past the call must copy it: a FrameIO implementation is
// free to reuse the backing array for the next frame.
type FrameReceivedFunc func(frame []byte)

// Device is a single opened link-layer endpoint: one physical or
// virtual interface the datapath sends and receives Ethernet frames
// on.
type Device interface {
	// SetFrameReceived installs the callback invoked for inbound
	// frames. It replaces any previously installed callback and may
	// be called at most once per Device in the normal pipeline
	// wiring, but implementations must tolerate being called again.
	SetFrameReceived(fn FrameReceivedFunc)

	// SendFrame transmits a single Ethernet frame. It returns
	// ErrDeviceClosed once Close has completed.
	SendFrame(frame []byte) error

	// Close releases the device's resources. It is safe to call more
	// than once.
	Close() error
}

// FrameIO abstracts the link-layer I/O a datapath port is backed by,
// so the pipeline itself never touches a socket, a tap device, or any
// other host-network primitive directly.
type FrameIO interface {
	// Open brings up the named interface with the given send/receive
	// queue depths and returns the Device handle used to exchange
	// frames with it.
	Open(name string, maxSendQueue, maxRecvQueue int) (Device, error)
}

// LoopbackFrameIO is an in-memory FrameIO meant for tests and for
// wiring datapath ports together within a single process without any
// real network device.
type LoopbackFrameIO struct {
	mu      sync.Mutex
	devices map[string]*loopbackDevice
}

// NewLoopbackFrameIO returns a FrameIO whose devices are cross-wired
// in pairs: once two opened names are joined with Pair, a frame sent
// on one device is delivered to the other.
func NewLoopbackFrameIO() *LoopbackFrameIO {
	return &LoopbackFrameIO{devices: make(map[string]*loopbackDevice)}
}

// Open implements FrameIO. Frames sent on the returned Device are
// handed synchronously to its peer's callback; install a peer with
// Pair to actually observe them, otherwise they are simply dropped.
func (l *LoopbackFrameIO) Open(name string, maxSendQueue, maxRecvQueue int) (Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := &loopbackDevice{name: name}
	l.devices[name] = d
	return d, nil
}

// Pair connects two previously Open'd device names so frames sent on
// one are delivered to the other's callback, and vice versa.
func (l *LoopbackFrameIO) Pair(a, b string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	da, ok := l.devices[a]
	if !ok {
		return errUnknownLoopbackDevice(a)
	}
	db, ok := l.devices[b]
	if !ok {
		return errUnknownLoopbackDevice(b)
	}

	da.peer = db
	db.peer = da
	return nil
}

func errUnknownLoopbackDevice(name string) error {
	return errors.New("datapath: unknown loopback device: " + name)
}

type loopbackDevice struct {
	name string

	mu     sync.Mutex
	peer   *loopbackDevice
	onRecv FrameReceivedFunc
	closed bool
}

func (d *loopbackDevice) SetFrameReceived(fn FrameReceivedFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onRecv = fn
}

func (d *loopbackDevice) SendFrame(frame []byte) error {
	d.mu.Lock()
	peer := d.peer
	closed := d.closed
	d.mu.Unlock()

	if closed {
		return ErrDeviceClosed
	}
	if peer == nil {
		return nil
	}

	cp := append([]byte(nil), frame...)

	peer.mu.Lock()
	recv := peer.onRecv
	peer.mu.Unlock()

	if recv != nil {
		recv(cp)
	}
	return nil
}

func (d *loopbackDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
