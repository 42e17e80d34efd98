// Package fingerprint computes the stable 256-bit digests the store uses as
// the only identity for builds, binds, and their inputs.
//
// The canonicalization technique — sort, then feed a running hash.Hash in
// sorted order — is the same one a recipient-list fingerprint helper would
// use; this package generalizes it to arbitrary nested node/input structures
// with explicit type tags and length prefixes so that no two distinct
// canonical values can ever hash to the same byte stream.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
)

// Digest is a 256-bit content fingerprint.
type Digest [sha256.Size]byte

// String renders the digest as lowercase hex.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short renders a log-friendly prefix of the digest.
func (d Digest) Short() string {
	s := d.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// IsZero reports whether d is the zero digest (no value computed yet).
func (d Digest) IsZero() bool { return d == Digest{} }

// MarshalJSON renders the digest as a quoted hex string, so manifests and
// bind state files stay human-readable JSON instead of byte arrays.
func (d Digest) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses a quoted hex string back into a Digest.
func (d *Digest) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("fingerprint: invalid JSON digest %s", data)
	}
	parsed, err := FromHex(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FromHex parses a hex-encoded digest, as read back from a manifest or
// bind state file.
func FromHex(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != len(d) {
		return d, errShortHex(len(b))
	}
	copy(d[:], b)
	return d, nil
}

type errShortHex int

func (e errShortHex) Error() string {
	return "fingerprint: decoded hex has wrong length"
}

const (
	tagString byte = iota + 1
	tagBytes
	tagInt
	tagBool
	tagDigest
	tagMapping
	tagSequence
	tagNil
)

// Builder accumulates a canonical byte stream and finalizes it to a Digest.
// Every Write-like method returns the builder so calls can be chained the
// way the canonical encoder is used throughout this package.
type Builder struct {
	h hash.Hash
}

// New starts a fresh canonical encoding.
func New() *Builder {
	return &Builder{h: sha256.New()}
}

func (b *Builder) putUint64(n uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	b.h.Write(buf[:])
}

// String appends a length-prefixed, type-tagged string.
func (b *Builder) String(s string) *Builder {
	b.h.Write([]byte{tagString})
	b.putUint64(uint64(len(s)))
	b.h.Write([]byte(s))
	return b
}

// Bytes appends a length-prefixed, type-tagged byte slice (used for
// path-digests and raw thunk source bytes).
func (b *Builder) Bytes(p []byte) *Builder {
	b.h.Write([]byte{tagBytes})
	b.putUint64(uint64(len(p)))
	b.h.Write(p)
	return b
}

// Int appends a type-tagged integer.
func (b *Builder) Int(n int64) *Builder {
	b.h.Write([]byte{tagInt})
	b.putUint64(uint64(n))
	return b
}

// Bool appends a type-tagged boolean.
func (b *Builder) Bool(v bool) *Builder {
	b.h.Write([]byte{tagBool})
	if v {
		b.h.Write([]byte{1})
	} else {
		b.h.Write([]byte{0})
	}
	return b
}

// Nil appends a type-tagged absence marker, distinct from an empty string.
func (b *Builder) Nil() *Builder {
	b.h.Write([]byte{tagNil})
	return b
}

// Digest appends a reference to an upstream fingerprint (or any other
// 32-byte digest, such as a literal's digest or a path-digest).
func (b *Builder) Digest(d Digest) *Builder {
	b.h.Write([]byte{tagDigest})
	b.h.Write(d[:])
	return b
}

// BeginMapping appends a type-tagged mapping header. Callers are
// responsible for writing exactly n (key, value) pairs in sorted key
// order immediately afterward.
func (b *Builder) BeginMapping(n int) *Builder {
	b.h.Write([]byte{tagMapping})
	b.putUint64(uint64(n))
	return b
}

// BeginSequence appends a type-tagged sequence header. Callers write
// exactly n elements afterward, in declared order.
func (b *Builder) BeginSequence(n int) *Builder {
	b.h.Write([]byte{tagSequence})
	b.putUint64(uint64(n))
	return b
}

// Sum finalizes the encoding into a Digest. The builder must not be reused
// afterward.
func (b *Builder) Sum() Digest {
	var d Digest
	copy(d[:], b.h.Sum(nil))
	return d
}

// Mapping computes the digest of a name->digest mapping with keys sorted
// lexicographically, the rule spec.md requires for fingerprint stability
// across hosts and runs.
func Mapping(entries map[string]Digest) Digest {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := New()
	b.BeginMapping(len(keys))
	for _, k := range keys {
		b.String(k)
		b.Digest(entries[k])
	}
	return b.Sum()
}

// OfBytes digests an arbitrary byte slice directly, used for path contents
// and action thunk source bytes.
func OfBytes(p []byte) Digest {
	return New().Bytes(p).Sum()
}

// OfString digests a literal scalar string the same way a mapping value
// digest would be computed, so literal edges and upstream fingerprints can
// be mixed uniformly as Digest values.
func OfString(s string) Digest {
	return New().String(s).Sum()
}
