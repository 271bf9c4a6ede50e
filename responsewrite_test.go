package of

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/netflowctl/ofcore/ofp"
)

func TestResponseWriteEchoReply(t *testing.T) {
	echoHandler := func(rw ResponseWriter, r *Request) {
		var req ofp.EchoRequest
		req.ReadFrom(r.Body)

		rw.Header().Set(TypeHeaderKey, TypeEchoReply)
		rw.Header().Set(XIDHeaderKey, r.Header.XID)

		reply := ofp.EchoReply{Data: req.Data}
		reply.WriteTo(rw)
		rw.WriteHeader()
	}

	mux := NewTypeMux()
	mux.HandleFunc(TypeEchoRequest, echoHandler)

	var wreq bytes.Buffer
	req, err := NewRequest(TypeEchoRequest, bytes.NewReader([]byte("ping")))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.XID = 7
	if _, err := req.WriteTo(&wreq); err != nil {
		t.Fatal(err)
	}

	conn := &dummyConn{r: wreq}
	s := Server{Addr: "0.0.0.0:6633", Handler: mux}

	if err := s.Serve(&dummyListener{conn}); err != io.EOF {
		t.Fatal("Serve failed:", err)
	}

	var resp Request
	if _, err := resp.ReadFrom(&conn.w); err != nil {
		t.Fatal("Failed to parse echo reply:", err)
	}

	if resp.Header.Type != TypeEchoReply {
		t.Fatal("Wrong reply type:", resp.Header.Type)
	}
	if resp.Header.XID != 7 {
		t.Fatal("Wrong reply transaction id:", resp.Header.XID)
	}

	var reply ofp.EchoReply
	if _, err := reply.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}

	if got := fmt.Sprintf("%s", reply.Data); got != "ping" {
		t.Fatal("Wrong echoed payload:", got)
	}
}
