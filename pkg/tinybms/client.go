package tinybms

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	gateway "github.com/victronbms/gateway"
	"github.com/victronbms/gateway/pkg/eventbus"
)

// Port is the minimal transport contract the Client needs; a real
// device uses *serial.Port from github.com/tarm/serial opened at
// 115200 8N1 no flow control; tests use an in-memory
// fake.
type Port interface {
	io.Reader
	io.Writer
}

// Flusher is implemented by ports that can discard buffered RX bytes
// before a request — *serial.Port exposes Flush. Implementing it is
// optional; Client only flushes when the port supports it and
// Config.FlushBeforeRead is set.
type Flusher interface {
	Flush() error
}

// Config holds every timing knob the transaction layer needs. Every
// field is configuration-driven, never hardcoded past this default.
type Config struct {
	RequestTimeout time.Duration // per-transaction deadline, default 200ms
	MutexTimeout   time.Duration // request-queue acquisition ceiling, default 5s
	ReadChunk      time.Duration // max blocking read slice, default 50ms
	MaxRetries     int           // default 3
	Backoff        []time.Duration
	PollInterval   time.Duration // default 500ms

	// FlushBeforeRead governs whether the RX buffer is discarded
	// before writing each request. Left as an open
	// question: the ESP32 port ships it off, but a more aggressive
	// reference implementation flushes every time and is reported
	// more reliable. This gateway defaults it ON, on the grounds that
	// a TinyBMS link sharing a bus with other pollers is the common
	// deployment and stale bytes are the likelier failure mode; set
	// it to false to match the ESP32 port's historical default.
	FlushBeforeRead bool

	// OfflineThreshold is the number of consecutive failed sweeps
	// that trips BmsOffline.
	OfflineThreshold int
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:   200 * time.Millisecond,
		MutexTimeout:     5 * time.Second,
		ReadChunk:        50 * time.Millisecond,
		MaxRetries:       3,
		Backoff:          []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond},
		PollInterval:     500 * time.Millisecond,
		FlushBeforeRead:  true,
		OfflineThreshold: 3,
	}
}

// Client owns the single UART transaction path: exactly one goroutine
// performs port I/O, serialized by a channel-backed mutex with a
// bounded acquisition wait (mirroring the writeMut channel pattern
// used for serial command pipelines elsewhere in the pack). Every
// other caller reads the register Cache or calls ReadRegister /
// WriteRegister, which enqueue and wait for their turn.
type Client struct {
	port  Port
	cache *Cache
	bus   *eventbus.Bus
	cfg   Config
	log   *logrus.Entry

	txLock chan struct{}

	consecutiveFailures int
	online              atomic.Bool

	rxBuf []byte
}

// NewClient wires a Client around an already-open Port.
func NewClient(port Port, cache *Cache, bus *eventbus.Bus, cfg Config, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Client{
		port:   port,
		cache:  cache,
		bus:    bus,
		cfg:    cfg,
		log:    log.WithField("component", "tinybms.client"),
		txLock: make(chan struct{}, 1),
	}
	c.online.Store(true)
	c.txLock <- struct{}{}
	return c
}

// acquire claims the request-queue mutex, waiting up to
// cfg.MutexTimeout. The TinyBMS device is never accessed from two
// goroutines at once.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case <-c.txLock:
		return nil
	case <-time.After(c.cfg.MutexTimeout):
		return gateway.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	c.txLock <- struct{}{}
}

// transact runs one full request/response exchange, including retry
// with exponential backoff on Timeout/BadCRC, the wake-from-sleep
// repeat, and Nack propagation without retry.
func (c *Client) transact(ctx context.Context, req []byte, wantCmd byte) (Response, error) {
	if err := c.acquire(ctx); err != nil {
		return Response{}, err
	}
	defer c.release()

	if c.cfg.FlushBeforeRead {
		if f, ok := c.port.(Flusher); ok {
			_ = f.Flush()
		}
	}

	resp, err := c.attempt(req, wantCmd)
	if err == nil {
		c.onSuccess()
		return resp, nil
	}

	var nack *gateway.NackError
	if errors.As(err, &nack) {
		c.onFailure()
		return Response{}, err
	}

	// Wake-from-sleep: the first frame after a quiet period may be
	// swallowed to wake the device. Repeat once before entering the
	// normal retry ladder.
	if errors.Is(err, gateway.ErrTimeout) {
		resp, err2 := c.attempt(req, wantCmd)
		if err2 == nil {
			c.onSuccess()
			return resp, nil
		}
		err = err2
	}

	for i := 0; i < c.cfg.MaxRetries; i++ {
		if errors.As(err, &nack) {
			c.onFailure()
			return Response{}, err
		}
		delay := c.cfg.Backoff[min(i, len(c.cfg.Backoff)-1)]
		time.Sleep(delay)
		resp, err = c.attempt(req, wantCmd)
		if err == nil {
			c.onSuccess()
			return resp, nil
		}
	}
	c.onFailure()
	c.bus.Publish(eventbus.SerialCommError, []byte(err.Error()))
	return Response{}, err
}

// attempt performs a single write + poll-until-complete-frame pass
// against the deadline cfg.RequestTimeout.
func (c *Client) attempt(req []byte, wantCmd byte) (Response, error) {
	if _, err := c.port.Write(req); err != nil {
		return Response{}, fmt.Errorf("write: %w", err)
	}

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	c.rxBuf = c.rxBuf[:0]
	chunk := make([]byte, 256)

	for time.Now().Before(deadline) {
		n, err := c.port.Read(chunk)
		if n > 0 {
			c.rxBuf = append(c.rxBuf, chunk[:n]...)
			resp, consumed, extractErr := Extract(c.rxBuf)
			if extractErr == nil {
				c.rxBuf = c.rxBuf[consumed:]
				if err2 := ExpectCommand(resp, wantCmd); err2 != nil && !resp.IsAck {
					return Response{}, err2
				}
				return resp, nil
			}
			var nack *gateway.NackError
			if errors.As(extractErr, &nack) {
				return Response{}, extractErr
			}
			if errors.Is(extractErr, ErrNotEnoughData) {
				continue
			}
			// BadCRC / BadPreamble / malformed: drop the bad prefix
			// (Extract already advanced past it) and keep listening
			// within the same deadline.
			if consumed > 0 && consumed <= len(c.rxBuf) {
				c.rxBuf = c.rxBuf[consumed:]
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return Response{}, fmt.Errorf("read: %w", err)
		}
	}
	return Response{}, gateway.ErrTimeout
}

// Online reports whether the client considers the device reachable,
// i.e. fewer than cfg.OfflineThreshold consecutive failures have
// occurred since the last success.
func (c *Client) Online() bool {
	return c.online.Load()
}

func (c *Client) onSuccess() {
	wasOffline := !c.online.Load()
	c.consecutiveFailures = 0
	c.online.Store(true)
	if wasOffline {
		c.bus.Publish(eventbus.BmsOnline, nil)
	}
}

func (c *Client) onFailure() {
	c.consecutiveFailures++
	if c.consecutiveFailures >= c.cfg.OfflineThreshold && c.online.Load() {
		c.online.Store(false)
		c.bus.Publish(eventbus.BmsOffline, nil)
	}
}

// ReadRegister issues a 0x09 individual-register read for addr,
// stores the CRC-valid result in the cache, and publishes
// BmsRegisterUpdated.
func (c *Client) ReadRegister(ctx context.Context, addr uint16) (Register, error) {
	req := BuildReadRegisters([]uint16{addr})
	resp, err := c.transact(ctx, req, CmdReadRegisters)
	if err != nil {
		return Register{}, err
	}
	if len(resp.Payload) < 2 {
		return Register{}, gateway.ErrBadFrame
	}
	raw := binary.LittleEndian.Uint16(resp.Payload[:2])
	now := time.Now()
	c.cache.Store(addr, KindU16, uint32(raw), now)
	reg, _ := c.cache.Load(addr)

	payload := make([]byte, 10)
	binary.LittleEndian.PutUint16(payload[0:2], addr)
	binary.LittleEndian.PutUint16(payload[2:4], raw)
	c.bus.Publish(eventbus.BmsRegisterUpdated, payload)
	return reg, nil
}

// WriteRegister issues a 0x0D write (big-endian data word per
// value), then always issues a follow-up read to confirm and
// returns the verified readback. Writes are never retried after an
// ACK parses cleanly.
func (c *Client) WriteRegister(ctx context.Context, addr uint16, value uint16) (uint32, error) {
	req := BuildWriteRegister(addr, value)
	_, err := c.transact(ctx, req, CmdWriteRegister)
	if err != nil {
		return 0, err
	}
	reg, err := c.ReadRegister(ctx, addr)
	if err != nil {
		return 0, err
	}
	if reg.AsU16() != value {
		return uint32(reg.AsU16()), &gateway.WriteVerifyError{
			Address: addr, Wanted: uint32(value), Readback: uint32(reg.AsU16()),
		}
	}
	return uint32(reg.AsU16()), nil
}

// Reset issues the 0x02 reset/clear-events/clear-stats command and
// waits for its ACK.
func (c *Client) Reset(ctx context.Context, option byte) error {
	_, err := c.transact(ctx, BuildReset(option), CmdReset)
	return err
}

// Run drives the steady poll loop: every
// cfg.PollInterval it reads the full PollSet, updates the cache, and
// once per sweep publishes a rebuilt LiveData snapshot. It returns
// when ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	addrs := PollSet()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, addr := range addrs {
				if _, err := c.ReadRegister(ctx, addr); err != nil {
					c.log.WithError(err).WithField("address", addr).Warn("register read failed")
				}
			}
			live := Derive(c.cache)
			c.bus.Publish(eventbus.BmsLiveData, encodeLiveDataMarker(live))
		}
	}
}

// encodeLiveDataMarker produces a tiny, stable payload for
// BmsLiveData subscribers that only need a change signal; the
// authoritative snapshot is always fetched via the gateway's
// get_live_data() accessor, never decoded back out of the event.
func encodeLiveDataMarker(d LiveData) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(d.SeriesCells))
	return buf
}
