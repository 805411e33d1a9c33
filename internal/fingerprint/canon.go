package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/zeebo/blake3"
)

// Size is the length in bytes of digests and keys.
const Size = 32

// Digest identifies a piece of content by its canonical serialization.
type Digest [Size]byte

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest was never computed.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes the hex form produced by String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != Size {
		return d, fmt.Errorf("digest must be %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Canonical is implemented by values that can serialize themselves into a
// Writer in a stable order.
type Canonical interface {
	WriteCanonical(w *Writer)
}

// Writer feeds a canonical, self-delimiting encoding into blake3. Every value
// carries a kind byte and strings carry their length, so adjacent fields can
// never run together ("ab","c" and "a","bc" hash differently).
type Writer struct {
	h   *blake3.Hasher
	buf [binary.MaxVarintLen64 + 1]byte
}

const (
	kindString byte = 's'
	kindUint   byte = 'u'
	kindFloat  byte = 'f'
	kindBool   byte = 'b'
	kindList   byte = 'l'
	kindDomain byte = 'd'
)

// NewWriter starts a hash separated from other uses by domain.
func NewWriter(domain string) *Writer {
	w := &Writer{h: blake3.New()}
	w.header(kindDomain, uint64(len(domain)))
	_, _ = w.h.Write([]byte(domain))
	return w
}

func (w *Writer) header(kind byte, n uint64) {
	w.buf[0] = kind
	l := binary.PutUvarint(w.buf[1:], n)
	_, _ = w.h.Write(w.buf[:1+l])
}

// String writes a length-prefixed string.
func (w *Writer) String(s string) {
	w.header(kindString, uint64(len(s)))
	_, _ = w.h.Write([]byte(s))
}

// Uint writes an unsigned integer.
func (w *Writer) Uint(v uint64) {
	w.header(kindUint, v)
}

// Float writes the IEEE-754 bits of f.
func (w *Writer) Float(f float64) {
	w.header(kindFloat, math.Float64bits(f))
}

// Bool writes a boolean.
func (w *Writer) Bool(b bool) {
	var v uint64
	if b {
		v = 1
	}
	w.header(kindBool, v)
}

// List announces that n elements follow.
func (w *Writer) List(n int) {
	w.header(kindList, uint64(n))
}

// Strings writes a list of strings.
func (w *Writer) Strings(ss []string) {
	w.List(len(ss))
	for _, s := range ss {
		w.String(s)
	}
}

// Value writes a nested canonical value.
func (w *Writer) Value(c Canonical) {
	c.WriteCanonical(w)
}

// Sum returns the digest of everything written so far.
func (w *Writer) Sum() Digest {
	var d Digest
	copy(d[:], w.h.Sum(nil))
	return d
}
