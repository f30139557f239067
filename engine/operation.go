package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"rawdiag/device"
	"rawdiag/progress"
)

// Operation is one run of a Mode against one device.
type Operation struct {
	ID        string
	Mode      Mode
	Request   Request
	StartedAt time.Time

	key    string
	stop   progress.Flag
	events *progress.Channel
	done   chan struct{}

	mu     sync.Mutex
	state  State
	device device.Device
	result Result
}

func newOperation(req Request, key string, now time.Time, buffer int) *Operation {
	return &Operation{
		ID:        uuid.NewString(),
		Mode:      req.Mode,
		Request:   req,
		StartedAt: now,
		key:       key,
		events:    progress.NewChannel(buffer),
		done:      make(chan struct{}),
		state:     Pending,
	}
}

// Cancel asks the worker to stop at its next chunk boundary. It never waits
// and is a no-op once the Operation is terminal.
func (o *Operation) Cancel() {
	o.stop.Set()
	o.transition(Cancelling)
}

// State is the current lifecycle state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Device is the snapshot taken when the Operation started. It is zero until
// the device has been probed.
func (o *Operation) Device() device.Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.device
}

// Events is the progress stream. It ends with a progress.Finished event and
// is then closed. The worker never waits on it, so a caller may ignore it and
// select on Done instead.
func (o *Operation) Events() <-chan progress.Event { return o.events.C() }

// Done is closed once the Result is available.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Result returns the terminal Result once Done is closed.
func (o *Operation) Result() (Result, bool) {
	select {
	case <-o.done:
	default:
		return Result{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result, true
}

// Wait blocks until the Operation is terminal. Events not yet received are
// discarded.
func (o *Operation) Wait() Result {
	for range o.events.C() {
	}
	<-o.done
	r, _ := o.Result()
	return r
}

// transition moves to s unless that would go backwards or leave a terminal
// state. It reports whether the state changed.
func (o *Operation) transition(s State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() || s.rank() <= o.state.rank() {
		return false
	}
	o.state = s
	return true
}

func (o *Operation) setDevice(d device.Device) {
	o.mu.Lock()
	o.device = d
	o.mu.Unlock()
}

// complete stores the Result and its terminal state.
func (o *Operation) complete(r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = r.State
	o.result = r
}
