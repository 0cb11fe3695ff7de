// Package workers manages the set of per-partition consumption workers for
// one consumer group member. The Controller owns every worker handle; callers
// (the membership manager) only ever say "converge to this partition set" and
// "shut everything down". Two invariants hold at all times: at most one
// worker runs per partition, and workers of a previous assignment are fully
// stopped before any worker of a new assignment starts.
package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mkocikowski/groupclient"
)

// Worker consumes a single partition. Run blocks until ctx is canceled (the
// stop signal) or until the worker fails; returning is the acknowledgment
// that all resources have been released. A non-nil error from Run with live
// ctx makes the Controller start a replacement worker for the partition.
type Worker interface {
	Run(ctx context.Context) error
}

// StartFunc builds a worker for a partition. Called once during convergence
// and once per individual restart, so every (re)start gets a fresh worker
// value. An error means the partition gets no worker until the next
// convergence; peers are unaffected.
type StartFunc func(groupclient.Partition) (Worker, error)

// Controller starts and stops workers so that exactly the currently assigned
// partitions are being consumed. Set public field values before the first
// call to Converge. Safe for concurrent use, though the membership manager
// calls it from a single goroutine.
type Controller struct {
	Start StartFunc
	// MaxRestarts bounds consecutive failed runs of a single worker.
	// After the bound the partition is left without a worker until the
	// next convergence. 0 means DefaultMaxRestarts.
	MaxRestarts int
	//
	sync.Mutex
	handles map[groupclient.Partition]*handle
}

const DefaultMaxRestarts = 5

type handle struct {
	// run id, correlates all log lines of one worker lifetime across
	// restarts
	id        string
	partition groupclient.Partition
	cancel    context.CancelFunc
	done      chan struct{}
}

// Converge stops and starts workers until the running set is newPartitions.
// If the requested set equals the running set this is a no-op. Otherwise
// every running worker is stopped and its termination awaited before any new
// worker starts: the old assignment may already be live elsewhere in the
// group, so even partitions present in both sets get a fresh worker rather
// than a surviving one.
//
// A worker that fails to start does not stop its peers; the first start
// error is returned so the caller can report it, with the successfully
// started workers left running.
func (c *Controller) Converge(ctx context.Context, newPartitions []groupclient.Partition) error {
	c.Lock()
	defer c.Unlock()
	if c.handles == nil {
		c.handles = map[groupclient.Partition]*handle{}
	}
	if c.sameSet(newPartitions) {
		return nil
	}
	c.stopAll()
	if err := ctx.Err(); err != nil {
		// stop request arrived during teardown: stay torn down
		return err
	}
	var firstErr error
	for _, p := range newPartitions {
		if _, ok := c.handles[p]; ok {
			// duplicate partition in the assignment; assignor bug
			log.Printf("duplicate partition %v in assignment, skipping", p)
			continue
		}
		w, err := c.Start(p)
		if err != nil {
			log.Printf("error starting worker for %v: %v", p, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.handles[p] = c.spawn(p, w)
	}
	return firstErr
}

// Shutdown stops all workers and waits for each to acknowledge termination.
// The Controller remains usable: a later Converge starts workers again.
func (c *Controller) Shutdown() {
	c.Lock()
	defer c.Unlock()
	c.stopAll()
}

// Running returns the partitions that currently have a worker (running or
// restarting).
func (c *Controller) Running() []groupclient.Partition {
	c.Lock()
	defer c.Unlock()
	partitions := make([]groupclient.Partition, 0, len(c.handles))
	for p, h := range c.handles {
		select {
		case <-h.done:
			// exhausted its restarts; not running
		default:
			partitions = append(partitions, p)
		}
	}
	return partitions
}

func (c *Controller) sameSet(partitions []groupclient.Partition) bool {
	if len(partitions) != len(c.handles) {
		return false
	}
	for _, p := range partitions {
		h, ok := c.handles[p]
		if !ok {
			return false
		}
		select {
		case <-h.done:
			// dead worker: converging to the same set must revive it
			return false
		default:
		}
	}
	return true
}

// stopAll cancels every worker and waits for termination. Callers hold the
// lock.
func (c *Controller) stopAll() {
	for _, h := range c.handles {
		h.cancel()
	}
	for _, h := range c.handles {
		<-h.done
	}
	c.handles = map[groupclient.Partition]*handle{}
}

func (c *Controller) maxRestarts() int {
	if c.MaxRestarts > 0 {
		return c.MaxRestarts
	}
	return DefaultMaxRestarts
}

func (c *Controller) spawn(p groupclient.Partition, w Worker) *handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		id:        uuid.NewString(),
		partition: p,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.run(ctx, h, w)
	return h
}

// run is the one-for-one supervision loop for a single worker: a crash
// restarts this worker only, never its peers and never a full convergence.
func (c *Controller) run(ctx context.Context, h *handle, w Worker) {
	defer close(h.done)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	for restarts := 0; ; restarts++ {
		if w != nil {
			log.Printf("worker %s for %v starting", h.id, h.partition)
			err := w.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				// clean self-termination with live ctx: the
				// worker decided it is done, honor that
				log.Printf("worker %s for %v exited", h.id, h.partition)
				return
			}
			log.Printf("worker %s for %v failed: %v", h.id, h.partition, err)
		}
		if restarts >= c.maxRestarts() {
			log.Printf("worker %s for %v exceeded %d restarts, giving up until next rebalance",
				h.id, h.partition, c.maxRestarts())
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}
		w = nil
		next, err := c.Start(h.partition)
		if err != nil {
			log.Printf("error restarting worker %s for %v: %v", h.id, h.partition, err)
			continue
		}
		w = next
	}
}
