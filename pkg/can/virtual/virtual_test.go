package virtual

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victronbms/gateway/pkg/can"
)

type recordingListener struct {
	frames []can.Frame
}

func (r *recordingListener) Handle(f can.Frame) {
	r.frames = append(r.frames, f)
}

func TestSendRecordsFrameWithoutLoopbackByDefault(t *testing.T) {
	bus := New()
	listener := &recordingListener{}
	bus.Subscribe(listener)

	require.NoError(t, bus.Send(can.Frame{ID: 0x305, DLC: 1}))

	last, ok := bus.LastSent()
	require.True(t, ok)
	require.Equal(t, uint32(0x305), last.ID)
	require.Empty(t, listener.frames, "no loopback unless explicitly enabled")
}

func TestSendLoopsBackWhenEnabled(t *testing.T) {
	bus := New()
	listener := &recordingListener{}
	bus.Subscribe(listener)
	bus.LoopbackEnabled = true

	require.NoError(t, bus.Send(can.Frame{ID: 0x351, DLC: 8}))

	require.Len(t, listener.frames, 1)
	require.Equal(t, uint32(0x351), listener.frames[0].ID)
}

func TestDeliverInjectsFrameRegardlessOfLoopback(t *testing.T) {
	bus := New()
	listener := &recordingListener{}
	bus.Subscribe(listener)

	bus.Deliver(can.Frame{ID: 0x307, Data: [8]byte{0, 0, 0, 0, 'V', 'I', 'C', 0}})

	require.Len(t, listener.frames, 1)
	require.Equal(t, uint32(0x307), listener.frames[0].ID)
}

func TestLastSentReflectsMostRecentFrame(t *testing.T) {
	bus := New()
	_, ok := bus.LastSent()
	require.False(t, ok, "no frames sent yet")

	require.NoError(t, bus.Send(can.Frame{ID: 0x305}))
	require.NoError(t, bus.Send(can.Frame{ID: 0x355}))

	last, ok := bus.LastSent()
	require.True(t, ok)
	require.Equal(t, uint32(0x355), last.ID)
	require.Len(t, bus.Sent, 2)
}

func TestConnectDisconnectDoNotError(t *testing.T) {
	bus := New()
	require.NoError(t, bus.Connect())
	require.NoError(t, bus.Disconnect())
}
