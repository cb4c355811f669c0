package mailbox

import "sync"

// Dispatcher is the coordination context for all published mailbox state.
// Every mutation of the listing, counters, loading flag, last error, and
// syncing set runs as a function posted here, on a single goroutine.
// Network and store work happens on caller goroutines and marshals its
// results back through Post or Call.
type Dispatcher struct {
	mu     sync.RWMutex
	work   chan func()
	done   chan struct{}
	closed bool
}

// NewDispatcher starts the coordination goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		work: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for f := range d.work {
		f()
	}
}

// Post schedules f on the coordination goroutine without waiting. Work
// posted after Close is dropped.
func (d *Dispatcher) Post(f func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	d.work <- f
}

// Call runs f on the coordination goroutine and waits for it to finish.
// Must not be called from within a posted function. After Close, f does
// not run.
func (d *Dispatcher) Call(f func()) {
	ran := make(chan struct{})
	posted := false

	d.mu.RLock()
	if !d.closed {
		d.work <- func() {
			defer close(ran)
			f()
		}
		posted = true
	}
	d.mu.RUnlock()

	if posted {
		<-ran
	}
}

// Close drains pending work and stops the goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.work)
	}
	d.mu.Unlock()
	<-d.done
}
