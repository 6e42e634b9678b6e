package tinybms

import (
	"sync"
	"time"
)

// Kind tags the wire representation a register's raw word(s) decode
// as.
type Kind int

const (
	KindU16 Kind = iota
	KindU32
	KindI16
	KindF32
)

// Register is a single cached value: the decoded word(s), unscaled,
// the wire kind it was decoded as, and the monotonic timestamp of the
// last successful (CRC-valid) read. Derive applies each register's
// scale when building LiveData.
type Register struct {
	Address   uint16
	Kind      Kind
	Raw       uint32 // the decoded bit pattern, reinterpret per Kind
	UpdatedAt time.Time
}

// AsU16 returns the register as an unsigned 16-bit word.
func (r Register) AsU16() uint16 { return uint16(r.Raw) }

// AsI16 returns the register as a signed 16-bit word.
func (r Register) AsI16() int16 { return int16(r.Raw) }

// AsU32 returns the register as an unsigned 32-bit word (two
// registers combined by the caller before Store, or a native 32-bit
// shortcut-read result).
func (r Register) AsU32() uint32 { return r.Raw }

// AsF32 reinterprets the raw bit pattern as IEEE-754 float32, the
// representation register 36 (pack voltage) uses on some commands —
// see the open question on register 36's dual
// interpretation.
func (r Register) AsF32() float32 {
	return float32FromBits(r.Raw)
}

// Cache is the concurrent key-value store keyed by TinyBMS register
// address. It is mutated only by the serial Client; every other
// subsystem reads it. The zero value is not usable; use NewCache.
type Cache struct {
	mu   sync.RWMutex
	regs map[uint16]Register
}

// NewCache returns an empty, ready-to-use register cache. It is
// created once at boot and never cleared for the life of the
// process.
func NewCache() *Cache {
	return &Cache{regs: make(map[uint16]Register)}
}

// Store records a successfully-decoded (CRC-valid) register read.
// The cache invariant forbids storing anything that
// didn't pass CRC — callers must only call Store after Extract has
// already validated the frame it came from.
func (c *Cache) Store(addr uint16, kind Kind, raw uint32, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[addr] = Register{Address: addr, Kind: kind, Raw: raw, UpdatedAt: now}
}

// Load returns the last cached value for addr, or ok == false if it
// has never been successfully read.
func (c *Cache) Load(addr uint16) (Register, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.regs[addr]
	return r, ok
}

// Snapshot returns a copy of every cached register, for diagnostics.
func (c *Cache) Snapshot() map[uint16]Register {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint16]Register, len(c.regs))
	for k, v := range c.regs {
		out[k] = v
	}
	return out
}
