package datapath

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackFrameIODeliversToPairedPeer(t *testing.T) {
	io := NewLoopbackFrameIO()

	a, err := io.Open("veth0", 0, 0)
	require.NoError(t, err)
	b, err := io.Open("veth1", 0, 0)
	require.NoError(t, err)

	require.NoError(t, io.Pair("veth0", "veth1"))

	received := make(chan []byte, 1)
	b.SetFrameReceived(func(frame []byte) { received <- frame })

	require.NoError(t, a.SendFrame([]byte{1, 2, 3}))

	select {
	case frame := <-received:
		assert.Equal(t, []byte{1, 2, 3}, frame)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestLoopbackFrameIOUnpairedSendIsNoop(t *testing.T) {
	io := NewLoopbackFrameIO()

	a, err := io.Open("lonely0", 0, 0)
	require.NoError(t, err)

	assert.NoError(t, a.SendFrame([]byte{9}))
}

func TestLoopbackFrameIOPairUnknownDevice(t *testing.T) {
	io := NewLoopbackFrameIO()

	_, err := io.Open("only0", 0, 0)
	require.NoError(t, err)

	assert.Error(t, io.Pair("only0", "missing0"))
}

func TestLoopbackDeviceSendAfterCloseFails(t *testing.T) {
	io := NewLoopbackFrameIO()

	a, err := io.Open("a0", 0, 0)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.Equal(t, ErrDeviceClosed, a.SendFrame([]byte{1}))
}
