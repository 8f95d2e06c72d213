package room

import "sync"

// inbound admits deliveries from the connection until it is shut, and lets
// teardown wait for the ones already running.
type inbound struct {
	mu       sync.Mutex
	drained  *sync.Cond
	shut     bool
	inflight int
}

func newInbound() *inbound {
	in := &inbound{}
	in.drained = sync.NewCond(&in.mu)

	return in
}

// enter reports whether a delivery may run. Each true result must be paired
// with exit.
func (in *inbound) enter() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.shut {
		return false
	}
	in.inflight++

	return true
}

func (in *inbound) exit() {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.inflight--
	if in.inflight == 0 {
		in.drained.Broadcast()
	}
}

// close stops admitting deliveries.
func (in *inbound) close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.shut = true
}

// wait blocks until no delivery is running. It must not be called from a
// delivery.
func (in *inbound) wait() {
	in.mu.Lock()
	defer in.mu.Unlock()

	for in.inflight > 0 {
		in.drained.Wait()
	}
}
