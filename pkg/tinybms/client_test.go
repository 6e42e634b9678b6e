package tinybms

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gateway "github.com/victronbms/gateway"
	"github.com/victronbms/gateway/pkg/eventbus"
)

// fakePort is an in-memory Port: Write appends to a log the test can
// inspect; Read serves from a pre-loaded response queue, at most one
// entry per Write. Once that entry is served (or the queue is empty)
// Read returns io.EOF with no bytes, which the client's deadline loop
// treats as "nothing yet"; an empty entry therefore makes that
// attempt time out.
type fakePort struct {
	writes    [][]byte
	responses [][]byte // each Write makes one queued response available, or none to time out
	served    int
	flushed   int
}

func (p *fakePort) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	p.writes = append(p.writes, cp)
	return len(b), nil
}

func (p *fakePort) Read(buf []byte) (int, error) {
	if len(p.responses) == 0 || p.served >= len(p.writes) {
		return 0, io.EOF
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	p.served++
	n := copy(buf, next)
	return n, nil
}

func (p *fakePort) Flush() error {
	p.flushed++
	return nil
}

func newTestClient(port Port) (*Client, *eventbus.Bus) {
	bus := eventbus.New(nil)
	cfg := DefaultConfig()
	cfg.RequestTimeout = 30 * time.Millisecond
	cfg.Backoff = []time.Duration{time.Millisecond, time.Millisecond}
	cfg.OfflineThreshold = 2
	return NewClient(port, NewCache(), bus, cfg, nil), bus
}

func TestClientReadRegisterSuccess(t *testing.T) {
	port := &fakePort{responses: [][]byte{buildDataResponse(CmdReadRegisters, []byte{0x10, 0x00})}}
	client, _ := newTestClient(port)

	reg, err := client.ReadRegister(context.Background(), RegPackCurrent)
	require.NoError(t, err)
	require.Equal(t, uint16(0x0010), reg.AsU16())
	require.Len(t, port.writes, 1)
	require.True(t, client.Online())
}

func TestClientRetriesThenSucceeds(t *testing.T) {
	port := &fakePort{responses: [][]byte{
		{}, // initial attempt: times out
		{}, // wake-from-sleep repeat: times out
		buildDataResponse(CmdReadRegisters, []byte{0x01, 0x00}), // first retry: success
	}}
	client, _ := newTestClient(port)
	reg, err := client.ReadRegister(context.Background(), RegPackCurrent)
	require.NoError(t, err)
	require.Equal(t, uint16(1), reg.AsU16())
	require.Len(t, port.writes, 3, "initial attempt, wake-from-sleep repeat, one retry")
}

func TestClientExhaustsRetriesAndGoesOffline(t *testing.T) {
	port := &fakePort{}
	client, bus := newTestClient(port)
	sub := bus.Subscribe("test", []eventbus.ID{eventbus.BmsOffline}, 4)

	_, err := client.ReadRegister(context.Background(), RegPackCurrent)
	require.Error(t, err)
	require.True(t, client.Online(), "one failed sweep should not yet trip OfflineThreshold=2")

	_, err = client.ReadRegister(context.Background(), RegPackCurrent)
	require.Error(t, err)
	require.False(t, client.Online())

	evt, ok, err := bus.Receive(sub, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, eventbus.BmsOffline, evt.ID)
}

func TestClientNackIsNotRetried(t *testing.T) {
	port := &fakePort{responses: [][]byte{buildDataResponse(nackCommand, []byte{0x02})}}
	client, _ := newTestClient(port)

	_, err := client.ReadRegister(context.Background(), RegPackCurrent)
	require.Error(t, err)
	require.Len(t, port.writes, 1, "a nack must not trigger the wake-repeat or retry ladder")
}

func TestClientWriteRegisterVerifiesReadback(t *testing.T) {
	port := &fakePort{responses: [][]byte{
		buildDataResponse(CmdWriteRegister, nil),
		buildDataResponse(CmdReadRegisters, []byte{0x05, 0x00}),
	}}
	client, _ := newTestClient(port)

	got, err := client.WriteRegister(context.Background(), 0x0040, 5)
	require.NoError(t, err)
	require.Equal(t, uint32(5), got)
}

func TestClientWriteRegisterMismatchReturnsWriteVerifyError(t *testing.T) {
	port := &fakePort{responses: [][]byte{
		buildDataResponse(CmdWriteRegister, nil),
		buildDataResponse(CmdReadRegisters, []byte{0x09, 0x00}),
	}}
	client, _ := newTestClient(port)

	_, err := client.WriteRegister(context.Background(), 0x0040, 5)
	require.Error(t, err)
	var mismatch *gateway.WriteVerifyError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, uint32(9), mismatch.Readback)
}

func TestClientFlushBeforeReadInvokesFlusher(t *testing.T) {
	port := &fakePort{responses: [][]byte{buildDataResponse(CmdReadRegisters, []byte{0x00, 0x00})}}
	client, _ := newTestClient(port)

	_, err := client.ReadRegister(context.Background(), RegPackCurrent)
	require.NoError(t, err)
	require.Equal(t, 1, port.flushed)
}
