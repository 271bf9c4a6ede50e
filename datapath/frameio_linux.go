//go:build linux

package datapath

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// RawSocketFrameIO opens devices backed by Linux AF_PACKET raw
// sockets, bound to a named interface in SOCK_RAW/ETH_P_ALL mode.
type RawSocketFrameIO struct{}

// NewRawSocketFrameIO returns a FrameIO backed by AF_PACKET sockets.
func NewRawSocketFrameIO() *RawSocketFrameIO {
	return &RawSocketFrameIO{}
}

// Open implements FrameIO. maxSendQueue and maxRecvQueue are accepted
// for interface compatibility; both SendFrame and the reader goroutine
// operate directly against the underlying raw socket, whose own
// kernel-side socket buffers provide the effective queueing.
func (RawSocketFrameIO) Open(name string, maxSendQueue, maxRecvQueue int) (Device, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("datapath: open raw socket: %w", err)
	}

	iface, err := unix.IfNameIndex()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("datapath: list interfaces: %w", err)
	}

	var ifIndex int
	found := false
	for _, i := range iface {
		if i.Name == name {
			ifIndex = int(i.Index)
			found = true
			break
		}
	}
	if !found {
		unix.Close(fd)
		return nil, fmt.Errorf("datapath: unknown interface: %s", name)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifIndex,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("datapath: bind raw socket to %s: %w", name, err)
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("datapath: epoll_create1: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		return nil, fmt.Errorf("datapath: epoll_ctl: %w", err)
	}

	d := &rawSocketDevice{
		fd:       fd,
		epfd:     epfd,
		ifIndex:  ifIndex,
		name:     name,
		closedCh: make(chan struct{}),
	}
	go d.readLoop()
	return d, nil
}

func htons(v int) uint16 {
	return uint16(v)<<8 | uint16(v)>>8
}

type rawSocketDevice struct {
	fd      int
	epfd    int
	ifIndex int
	name    string

	mu       sync.Mutex
	onRecv   FrameReceivedFunc
	closed   bool
	closedCh chan struct{}
}

func (d *rawSocketDevice) SetFrameReceived(fn FrameReceivedFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onRecv = fn
}

func (d *rawSocketDevice) SendFrame(frame []byte) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrDeviceClosed
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  d.ifIndex,
	}
	return unix.Sendto(d.fd, frame, 0, &addr)
}

// readLoop waits on the raw socket's readability via epoll rather than
// blocking directly in Recvfrom, so Close can unblock it deterministically
// by tearing down the epoll fd instead of racing a concurrent syscall.
func (d *rawSocketDevice) readLoop() {
	buf := make([]byte, 65536)
	events := make([]unix.EpollEvent, 1)

	for {
		select {
		case <-d.closedCh:
			return
		default:
		}

		n, err := unix.EpollWait(d.epfd, events, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		nn, _, err := unix.Recvfrom(d.fd, buf, 0)
		if err != nil {
			continue
		}

		d.mu.Lock()
		recv := d.onRecv
		closed := d.closed
		d.mu.Unlock()

		if closed {
			return
		}
		if recv != nil {
			frame := append([]byte(nil), buf[:nn]...)
			recv(frame)
		}
	}
}

func (d *rawSocketDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.closedCh)
	unix.Close(d.epfd)
	return unix.Close(d.fd)
}
