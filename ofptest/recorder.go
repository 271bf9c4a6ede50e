// Package ofptest provides utilities for testing OpenFlow handlers,
// mirroring the role net/http/httptest plays for HTTP handlers.
package ofptest

import (
	"bufio"
	"bytes"
	"net"

	of "github.com/netflowctl/ofcore"
)

// Recorder is an implementation of of.ResponseWriter that records its
// mutations for later inspection in a test.
type Recorder struct {
	header   of.Header
	body     bytes.Buffer
	flushed  []*of.Request
	hijacked bool
}

// NewRecorder returns an initialized Recorder.
func NewRecorder() *Recorder {
	req, _ := of.NewRequest(of.TypeHello, nil)
	return &Recorder{header: &req.Header}
}

// Header implements of.ResponseWriter.
func (rec *Recorder) Header() of.Header {
	return rec.header
}

// Write implements of.ResponseWriter.
func (rec *Recorder) Write(b []byte) (int, error) {
	return rec.body.Write(b)
}

// WriteHeader implements of.ResponseWriter. It snapshots the current
// header and body as a completed Request and resets the body buffer
// for the next message, the way a real connection would frame one
// OpenFlow message per WriteHeader call.
func (rec *Recorder) WriteHeader() error {
	typ, _ := rec.header.Get(of.TypeHeaderKey).(of.Type)
	version, _ := rec.header.Get(of.VersionHeaderKey).(uint8)
	xid, _ := rec.header.Get(of.XIDHeaderKey).(uint32)

	req, err := of.NewRequest(typ, bytes.NewReader(append([]byte(nil), rec.body.Bytes()...)))
	if err != nil {
		return err
	}
	req.Header.Version = version
	req.Header.XID = xid
	req.ContentLength = int64(rec.body.Len())

	rec.flushed = append(rec.flushed, req)
	rec.body.Reset()
	return nil
}

// Close implements of.ResponseWriter.
func (rec *Recorder) Close() error {
	return nil
}

// Hijack implements of.ResponseWriter. Recorder never actually hijacks
// a connection; it returns one end of an in-memory pipe.
func (rec *Recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rec.hijacked = true
	client, _ := net.Pipe()
	return client, nil, nil
}

// First returns the first message recorded by a WriteHeader call, or
// nil if the handler never wrote a response.
func (rec *Recorder) First() *of.Request {
	if len(rec.flushed) == 0 {
		return nil
	}
	return rec.flushed[0]
}

// All returns every message recorded so far.
func (rec *Recorder) All() []*of.Request {
	return rec.flushed
}
