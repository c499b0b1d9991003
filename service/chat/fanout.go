package chat

import (
	"sync"
	"sync/atomic"

	"DuoChat/logger"
)

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout decouples room publishes from per-connection writes through a
// small worker pool. A connection that cannot keep up loses frames instead
// of stalling every other member of the room; the drop counter makes those
// losses visible in the gateway log.
type Fanout struct {
	jobs    chan fanoutJob
	wg      sync.WaitGroup
	dropped atomic.Int64
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
		go f.run()
	}
	return f
}

func (f *Fanout) run() {
	defer f.wg.Done()
	for job := range f.jobs {
		for _, c := range job.conns {
			select {
			case c.Send <- job.payload:
			default:
				n := f.dropped.Add(1)
				if n%64 == 1 {
					logger.Warnf("[fanout] send queue full on %s, %d frames dropped total", c.ConnID, n)
				}
			}
		}
	}
}

func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}

// Dropped reports how many frames were discarded on full send queues.
func (f *Fanout) Dropped() int64 { return f.dropped.Load() }

// Close drains the queued jobs and stops the workers. Publishers must be
// quiet before calling it; a Broadcast after Close panics.
func (f *Fanout) Close() {
	close(f.jobs)
	f.wg.Wait()
}
