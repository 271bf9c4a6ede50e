package of

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrHijacked = errors.New("conn: Connection has been hijacked")
)

type Hijacker interface {
	Hijack() (net.Conn, *bufio.ReadWriter, error)
}

// A ResponseWriter interface is used by an OpenFlow handler to
// construct an OpenFlow response.
type ResponseWriter interface {
	Hijacker
	// Header returns the Header interface that will be sent by
	// WriteHeader. Changing the header after a call to WriteHeader
	// (or Write) has no effect
	Header() Header
	// Write writes the data to the connection as part of an OpenFlow reply.
	Write([]byte) (int, error)
	// WriteHeader sends an response header as part of an OpenFlow reply.
	WriteHeader() error
	// Close closes connection
	Close() error
}

type Handler interface {
	Serve(ResponseWriter, *Request)
}

type HandlerFunc func(ResponseWriter, *Request)

func (h HandlerFunc) Serve(rw ResponseWriter, r *Request) {
	h(rw, r)
}

func Discard(rw ResponseWriter, r *Request) {}

var DiscardHandler = HandlerFunc(Discard)

type response struct {
	header header
	conn   *OFPConn
	buf    bytes.Buffer
}

func (w *response) Header() Header {
	return &w.header
}

func (w *response) Write(b []byte) (n int, err error) {
	return w.buf.Write(b)
}

func (w *response) WriteHeader() (err error) {
	var buf bytes.Buffer

	w.header.Length = headerlen + uint16(w.buf.Len())
	defer w.buf.Reset()

	_, err = w.header.WriteTo(&buf)
	if err != nil {
		return
	}

	_, err = w.buf.WriteTo(&buf)
	if err != nil {
		return
	}

	_, err = w.conn.Write(buf.Bytes())
	return err
}

func (w *response) Close() error {
	return w.conn.Close()
}

func (w *response) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.conn.Hijack()
}

var DefaultServer = Server{
	Addr:    "0.0.0.0:6633",
	Handler: DefaultMux,
}

func ListenAndServe() error {
	return DefaultServer.ListenAndServe()
}

// Server accepts OpenFlow switch connections and dispatches messages
// received on each connection to Handler.
type Server struct {
	Addr    string
	Handler Handler

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Log receives connection lifecycle and error events. Defaults
	// to logrus.StandardLogger() when nil.
	Log *logrus.Logger
}

func (srv *Server) logger() *logrus.Logger {
	if srv.Log != nil {
		return srv.Log
	}
	return logrus.StandardLogger()
}

func (srv *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	return srv.Serve(ln)
}

func (srv *Server) Serve(l net.Listener) error {
	defer l.Close()

	for {
		rwc, err := l.Accept()
		if err != nil {
			return err
		}

		c := NewConn(rwc)
		c.ReadTimeout = srv.ReadTimeout
		c.WriteTimeout = srv.WriteTimeout

		go srv.serve(c, srv.Handler)
	}
}

func (srv *Server) serve(c *OFPConn, h Handler) {
	origconn := c.rwc
	log := srv.logger()

	defer func() {
		if !c.hijacked() {
			origconn.Close()
		}
	}()

	for {
		req, err := c.Receive()
		if err != nil {
			log.WithError(err).Debug("of: connection closed")
			return
		}

		resp := &response{conn: c}
		h.Serve(resp, req)

		c.buf.Flush()
	}
}
