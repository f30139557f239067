// Package progress carries operation progress to the caller and the
// cancellation flag back into the worker.
package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Direction is the transfer direction measured by a phase.
type Direction int

const (
	None Direction = iota
	Read
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return "none"
}

// Event is delivered on an operation's event stream.
type Event interface{ event() }

// Sample is a point-in-time progress reading within the current phase.
type Sample struct {
	Phase      string        `json:"phase"`
	PhaseIndex int           `json:"phase_index"`
	PhaseCount int           `json:"phase_count"`
	Percent    float64       `json:"percent"`
	Overall    float64       `json:"overall"`
	Bytes      int64         `json:"bytes"`
	Total      int64         `json:"total"`
	Sectors    int64         `json:"sectors"`
	Faults     int           `json:"faults"`
	ReadMBps   float64       `json:"read_mbps"`
	WriteMBps  float64       `json:"write_mbps"`
	Elapsed    time.Duration `json:"elapsed"`
	ETA        time.Duration `json:"eta"`
}

// PhaseEvent announces the start of a phase. Percent in the samples that
// follow restarts at zero.
type PhaseEvent struct {
	Index int       `json:"index"`
	Count int       `json:"count"`
	Label string    `json:"label"`
	Total int64     `json:"total"`
	Dir   Direction `json:"dir"`
}

// Finished is the last event of every operation.
type Finished struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

func (Sample) event()     {}
func (PhaseEvent) event() {}
func (Finished) event()   {}

// Sink receives events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops all events.
var Discard Sink = SinkFunc(func(Event) {})

// Channel is a buffered event stream whose Emit never blocks. Samples are
// dropped when the buffer is full. Phase and terminal events that do not fit
// are held in order and delivered once the receiver catches up.
type Channel struct {
	c chan Event

	mu      sync.Mutex
	pending []Event
	closed  bool
}

func NewChannel(buffer int) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{c: make(chan Event, buffer)}
}

func (ch *Channel) Emit(e Event) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	ch.flush()
	_, sample := e.(Sample)
	if len(ch.pending) > 0 {
		if !sample {
			ch.pending = append(ch.pending, e)
		}
		return
	}
	select {
	case ch.c <- e:
	default:
		if !sample {
			ch.pending = append(ch.pending, e)
		}
	}
}

// flush moves held events into the buffer while there is room.
func (ch *Channel) flush() {
	for len(ch.pending) > 0 {
		select {
		case ch.c <- ch.pending[0]:
			ch.pending[0] = nil
			ch.pending = ch.pending[1:]
		default:
			return
		}
	}
}

// Pending is the number of held events not yet in the buffer.
func (ch *Channel) Pending() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.pending)
}

// C returns the receive side.
func (ch *Channel) C() <-chan Event { return ch.c }

// Close ends the stream without waiting for the receiver. Held events are
// handed to a goroutine that delivers them before closing the channel.
func (ch *Channel) Close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	ch.closed = true
	ch.flush()
	if len(ch.pending) == 0 {
		close(ch.c)
		return
	}
	rest := ch.pending
	ch.pending = nil
	go func() {
		for _, e := range rest {
			ch.c <- e
		}
		close(ch.c)
	}()
}

// Flag is the shared cancellation flag polled at chunk boundaries.
type Flag struct {
	set atomic.Bool
}

// Set raises the flag. It reports whether this call raised it.
func (f *Flag) Set() bool { return f.set.CompareAndSwap(false, true) }

// IsSet reports whether cancellation was requested.
func (f *Flag) IsSet() bool { return f.set.Load() }
