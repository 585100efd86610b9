// File: internal/stamp/stamp.go
// Brief: Stamp values, observation policy and stamp hashing.

// Package stamp computes the fingerprints fbuild compares to decide whether a
// node is stale: file observations (mtime+size or content), directory
// listings, and deterministic combinations of other stamps.
package stamp

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Stamp is an opaque fingerprint. The zero value means "no stamp".
type Stamp uint64

// None is the unset stamp.
const None Stamp = 0

func (s Stamp) IsNone() bool { return s == None }

func (s Stamp) String() string {
	if s == None {
		return "none"
	}
	return fmt.Sprintf("%016x", uint64(s))
}

// Mode selects how file stamps are derived.
type Mode int

const (
	ModeTimeSize Mode = iota
	ModeContent
)

func (m Mode) String() string {
	switch m {
	case ModeContent:
		return "content"
	default:
		return "time"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "time", "timesize", "mtime":
		return ModeTimeSize, nil
	case "content", "hash":
		return ModeContent, nil
	default:
		return ModeTimeSize, fmt.Errorf("unknown stamp mode %q (expected time or content)", s)
	}
}

// DefaultResolution covers the coarsest common filesystem timestamp
// granularity (FAT and some network filesystems record 2s).
const DefaultResolution = 2 * time.Second

// Policy makes the staleness comparison explicit. In ModeTimeSize a file
// whose mtime is less than Resolution older than the moment it was observed
// is racy: a later write inside the same clock tick could leave mtime and
// size unchanged, so racy observations also hash the contents.
type Policy struct {
	Mode       Mode
	Resolution time.Duration
	Now        func() time.Time
}

func DefaultPolicy() Policy {
	return Policy{Mode: ModeTimeSize, Resolution: DefaultResolution}
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// IsRacy reports whether a file modified at modTime and observed at
// observedAt cannot be trusted on mtime+size alone. A file exactly
// Resolution old is not racy.
func (p Policy) IsRacy(modTime, observedAt time.Time) bool {
	if p.Mode == ModeContent || p.Resolution <= 0 {
		return false
	}
	return observedAt.Sub(modTime) < p.Resolution
}

// Hasher combines values into a Stamp. Every value is length- or
// type-delimited so different sequences cannot collide trivially.
type Hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

func NewHasher(domain string) *Hasher {
	h := &Hasher{d: xxhash.New()}
	h.WriteString(domain)
	return h
}

func (h *Hasher) WriteString(s string) {
	h.WriteUint64(uint64(len(s)))
	_, _ = h.d.WriteString(s)
}

func (h *Hasher) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.d.Write(h.buf[:])
}

func (h *Hasher) WriteInt64(v int64) { h.WriteUint64(uint64(v)) }

func (h *Hasher) WriteStamp(s Stamp) { h.WriteUint64(uint64(s)) }

// Sum never returns None.
func (h *Hasher) Sum() Stamp {
	return nonZero(h.d.Sum64())
}

func nonZero(v uint64) Stamp {
	if v == 0 {
		return Stamp(1)
	}
	return Stamp(v)
}
