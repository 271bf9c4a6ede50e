package ofputil

import (
	of "github.com/netflowctl/ofcore"
	"github.com/netflowctl/ofcore/ofp"
)

// EchoHandler returns a request handler that replies to each request
// with an echo reply carrying the same data as the original message.
//
// The method accepts an optional handler that will be executed after
// the reply has been queued.
func EchoHandler(h of.Handler) of.Handler {
	fn := func(rw of.ResponseWriter, r *of.Request) {
		var req ofp.EchoRequest

		if _, err := req.ReadFrom(r.Body); err != nil {
			return
		}

		rw.Header().Set(of.TypeHeaderKey, of.TypeEchoReply)
		rw.Header().Set(of.XIDHeaderKey, r.Header.XID)

		reply := ofp.EchoReply{Data: req.Data}
		reply.WriteTo(rw)
		rw.WriteHeader()

		if h != nil {
			h.Serve(rw, r)
		}
	}

	return of.HandlerFunc(fn)
}

// HelloHandler returns a request handler that replies to each request
// with a hello message advertising the given protocol version.
//
// The method accepts an optional handler that will be executed after
// the reply has been queued.
func HelloHandler(version uint8, h of.Handler) of.Handler {
	fn := func(rw of.ResponseWriter, r *of.Request) {
		rw.Header().Set(of.TypeHeaderKey, of.TypeHello)
		rw.Header().Set(of.VersionHeaderKey, version)
		rw.Header().Set(of.XIDHeaderKey, r.Header.XID)
		rw.WriteHeader()

		if h != nil {
			h.Serve(rw, r)
		}
	}

	return of.HandlerFunc(fn)
}
