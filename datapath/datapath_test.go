package datapath

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	of "github.com/netflowctl/ofcore"
	"github.com/netflowctl/ofcore/ofp"
)

// acceptPeer starts a Datapath dialing ln and returns the of.Conn the
// test uses to play the controller side of the connection.
func acceptPeer(t *testing.T, ln net.Listener, d *Datapath) of.Conn {
	t.Helper()

	require.NoError(t, d.Start("tcp", ln.Addr().String()))

	rwc, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { rwc.Close() })

	return of.NewConn(rwc)
}

func TestDatapathHandshakeSendsHelloThenFeatures(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	d := New(Config{DatapathID: 42, NumBuffers: 64, NumTables: 2})
	conn := acceptPeer(t, ln, d)
	defer d.Stop()

	hello, err := conn.Receive()
	require.NoError(t, err)
	require.Equal(t, of.TypeHello, hello.Header.Type)

	featReq, err := of.NewRequest(of.TypeFeaturesRequest, nil)
	require.NoError(t, err)
	featReq.Header.XID = 11
	require.NoError(t, conn.Send(featReq))
	require.NoError(t, conn.Flush())

	reply, err := conn.Receive()
	require.NoError(t, err)
	require.Equal(t, of.TypeFeaturesReply, reply.Header.Type)
	require.Equal(t, uint32(11), reply.Header.XID)

	var features ofp.SwitchFeatures
	_, err = features.ReadFrom(reply.Body)
	require.NoError(t, err)
	require.Equal(t, uint64(42), features.DatapathID)
	require.Equal(t, uint8(2), features.NumTables)
}

func TestDatapathSetConfigAppliesMissSendLength(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	d := New(Config{NumTables: 1})
	conn := acceptPeer(t, ln, d)
	defer d.Stop()

	_, err = conn.Receive() // hello
	require.NoError(t, err)

	cfg := ofp.SwitchConfig{MissSendLength: 64}
	var buf bytes.Buffer
	cfg.WriteTo(&buf)

	setReq, err := of.NewRequest(of.TypeSetConfig, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NoError(t, conn.Send(setReq))
	require.NoError(t, conn.Flush())

	require.Eventually(t, func() bool {
		return d.GetConfig().MissSendLength == 64
	}, time.Second, time.Millisecond)

	getReq, err := of.NewRequest(of.TypeGetConfigRequest, nil)
	require.NoError(t, err)
	getReq.Header.XID = 7
	require.NoError(t, conn.Send(getReq))
	require.NoError(t, conn.Flush())

	reply, err := conn.Receive()
	require.NoError(t, err)
	require.Equal(t, of.TypeGetConfigReply, reply.Header.Type)

	var got ofp.SwitchConfig
	_, err = got.ReadFrom(reply.Body)
	require.NoError(t, err)
	require.Equal(t, uint16(64), got.MissSendLength)
}

func TestDatapathTableMissSendsPacketIn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	frameIO := NewLoopbackFrameIO()
	d := New(Config{NumTables: 1, FrameIO: frameIO})

	_, err = d.AddPort("eth0")
	require.NoError(t, err)

	peer, err := frameIO.Open("peer", 1, 1)
	require.NoError(t, err)
	require.NoError(t, frameIO.Pair("eth0", "peer"))

	conn := acceptPeer(t, ln, d)
	defer d.Stop()

	_, err = conn.Receive() // hello
	require.NoError(t, err)

	frame := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x02, 0x00, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x00,
	}
	require.NoError(t, peer.SendFrame(frame))

	req, err := conn.Receive()
	require.NoError(t, err)
	require.Equal(t, of.TypePacketIn, req.Header.Type)

	var pi ofp.PacketIn
	_, err = pi.ReadFrom(req.Body)
	require.NoError(t, err)
	require.Equal(t, ofp.PacketInReasonAction, pi.Reason)
	require.Equal(t, frame, pi.Data)
}

func TestDatapathFlowModForwardsToInstalledPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	frameIO := NewLoopbackFrameIO()
	d := New(Config{NumTables: 1, FrameIO: frameIO})

	_, err = d.AddPort("eth0")
	require.NoError(t, err)
	outPort, err := d.AddPort("eth1")
	require.NoError(t, err)

	inPeer, err := frameIO.Open("in-peer", 1, 1)
	require.NoError(t, err)
	require.NoError(t, frameIO.Pair("eth0", "in-peer"))

	outPeer, err := frameIO.Open("out-peer", 1, 1)
	require.NoError(t, err)
	require.NoError(t, frameIO.Pair("eth1", "out-peer"))

	received := make(chan []byte, 1)
	outPeer.SetFrameReceived(func(frame []byte) {
		received <- append([]byte(nil), frame...)
	})

	conn := acceptPeer(t, ln, d)
	defer d.Stop()

	_, err = conn.Receive() // hello
	require.NoError(t, err)

	mod := &ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Priority: 1,
		Buffer:   ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Instructions: ofp.Instructions{
			&ofp.InstructionApplyActions{
				Actions: ofp.Actions{&ofp.ActionOutput{Port: outPort}},
			},
		},
	}
	var buf bytes.Buffer
	mod.WriteTo(&buf)

	modReq, err := of.NewRequest(of.TypeFlowMod, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NoError(t, conn.Send(modReq))
	require.NoError(t, conn.Flush())

	require.Eventually(t, func() bool {
		return len(d.pipeline.Tables[0].Entries()) == 1
	}, time.Second, time.Millisecond)

	frame := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x02, 0x00, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x00,
	}
	require.NoError(t, inPeer.SendFrame(frame))

	select {
	case got := <-received:
		require.Equal(t, frame, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded frame")
	}
}
