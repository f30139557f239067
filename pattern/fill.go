package pattern

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// Filler produces the bytes of one pass. Random passes draw from a ChaCha20
// keystream keyed from crypto/rand, so each pass is unpredictable while
// generation keeps up with sequential device writes.
type Filler struct {
	pass   Pass
	stream *chacha20.Cipher
	// buffer already holding a fixed pattern
	ready *byte
	size  int
}

// NewFiller prepares a generator for p.
func NewFiller(p Pass) (*Filler, error) {
	f := &Filler{pass: p}
	if p.Kind != Random {
		if len(p.Bytes) == 0 {
			return nil, fmt.Errorf("pass %v has no bytes", p)
		}
		return f, nil
	}
	key := make([]byte, chacha20.KeySize)
	nonce := make([]byte, chacha20.NonceSize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("seed random pass: %w", err)
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seed random pass: %w", err)
	}
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	f.stream = c
	return f, nil
}

// Fill writes the pass content for the device range starting at off into buf.
// Sequences stay phase-aligned to absolute device offsets across chunks.
func (f *Filler) Fill(buf []byte, off int64) {
	switch f.pass.Kind {
	case Random:
		clear(buf)
		f.stream.XORKeyStream(buf, buf)
	case Fixed:
		if len(buf) == 0 || (f.ready == &buf[0] && f.size >= len(buf)) {
			return
		}
		b := f.pass.Bytes[0]
		for i := range buf {
			buf[i] = b
		}
		f.ready, f.size = &buf[0], len(buf)
	case Sequence:
		seq := f.pass.Bytes
		start := int(off % int64(len(seq)))
		for i := range buf {
			buf[i] = seq[(start+i)%len(seq)]
		}
	}
}
