package blockio

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrInjected is the error returned by injected faults.
var ErrInjected = errors.New("injected media error")

// MemDevice is an in-memory Device. It backs emulated runs and lets tests
// inject read and write failures and silent corruption at chosen offsets.
type MemDevice struct {
	mu       sync.Mutex
	data     []byte
	block    int
	badRead  []int64
	badWrite []int64
	corrupt  []int64

	// Rate, when positive, paces transfers to roughly that many bytes/second.
	Rate float64
	// Hook, when set, runs before every transfer.
	Hook func(op Op, off int64, n int)
}

// NewMemDevice returns a zero-filled device of size bytes.
func NewMemDevice(size int64, blockSize int) *MemDevice {
	if blockSize <= 0 {
		blockSize = 512
	}
	return &MemDevice{data: make([]byte, size), block: blockSize}
}

// FailReadAt makes every read that covers off fail.
func (m *MemDevice) FailReadAt(off int64) {
	m.mu.Lock()
	m.badRead = append(m.badRead, off)
	m.mu.Unlock()
}

// FailWriteAt makes every write that covers off fail.
func (m *MemDevice) FailWriteAt(off int64) {
	m.mu.Lock()
	m.badWrite = append(m.badWrite, off)
	m.mu.Unlock()
}

// CorruptAt silently flips the byte stored at off on every write covering it.
func (m *MemDevice) CorruptAt(off int64) {
	m.mu.Lock()
	m.corrupt = append(m.corrupt, off)
	m.mu.Unlock()
}

// Bytes exposes the backing store.
func (m *MemDevice) Bytes() []byte { return m.data }

func covers(offs []int64, off int64, n int) bool {
	for _, o := range offs {
		if o >= off && o < off+int64(n) {
			return true
		}
	}
	return false
}

func (m *MemDevice) pace(n int) {
	if m.Rate > 0 {
		time.Sleep(time.Duration(float64(n) / m.Rate * float64(time.Second)))
	}
}

func (m *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if m.Hook != nil {
		m.Hook(OpRead, off, len(p))
	}
	m.pace(len(p))
	m.mu.Lock()
	defer m.mu.Unlock()
	if covers(m.badRead, off, len(p)) {
		return 0, ErrInjected
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if m.Hook != nil {
		m.Hook(OpWrite, off, len(p))
	}
	m.pace(len(p))
	m.mu.Lock()
	defer m.mu.Unlock()
	if covers(m.badWrite, off, len(p)) {
		return 0, ErrInjected
	}
	if off >= int64(len(m.data)) {
		return 0, io.ErrShortWrite
	}
	n := copy(m.data[off:], p)
	for _, o := range m.corrupt {
		if o >= off && o < off+int64(n) {
			m.data[o] ^= 0xff
		}
	}
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (m *MemDevice) Size() int64    { return int64(len(m.data)) }
func (m *MemDevice) BlockSize() int { return m.block }
func (m *MemDevice) Sync() error    { return nil }
func (m *MemDevice) Close() error   { return nil }
