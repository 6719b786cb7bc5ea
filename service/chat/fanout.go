package chat

import "sync"

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout is a small worker pool for deliveries whose relative order
// does not matter (roster broadcasts). Channel-scoped message delivery
// goes through Sender.DeliverToGroup instead, which preserves order.
type Fanout struct {
	jobs chan fanoutJob
	wg   sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	f.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer f.wg.Done()
			for job := range f.jobs {
				for _, c := range job.conns {
					c.push(job.payload)
				}
			}
		}()
	}
	return f
}

// Broadcast enqueues one payload for a connection snapshot. When the
// queue is saturated the walk runs inline on the caller instead, so a
// busy pool degrades to synchronous delivery rather than dropping the
// frame. After Stop it is a no-op; the read lock held across the
// enqueue keeps Stop from closing the channel mid-send.
func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stopped {
		return
	}
	select {
	case f.jobs <- fanoutJob{conns: conns, payload: payload}:
	default:
		for _, c := range conns {
			c.push(payload)
		}
	}
}

// Stop drains and terminates the workers. Idempotent; Broadcast calls
// arriving afterwards are discarded.
func (f *Fanout) Stop() {
	f.mu.Lock()
	if !f.stopped {
		f.stopped = true
		close(f.jobs)
	}
	f.mu.Unlock()
	f.wg.Wait()
}
