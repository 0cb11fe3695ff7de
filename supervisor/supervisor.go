// Package supervisor owns the process tree of one group member: the
// membership manager plus the worker set it commands. The two are restarted
// all-for-one: once a manager dies its in-memory view (member id,
// generation, assignment) and the live workers are mutually inconsistent, so
// the whole subtree is discarded and rebuilt. Individual worker crashes
// never reach this package; those are handled one-for-one inside
// workers.Controller.
package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mkocikowski/groupclient"
)

// Tree is one supervised subtree: Run blocks for the subtree's lifetime,
// Teardown synchronously stops every worker the subtree started. Implemented
// by groups.GroupMembershipManager (Teardown shutting down its Workers).
type Tree interface {
	Run(ctx context.Context) error
	Teardown()
}

const (
	DefaultMaxRestarts = 5
	DefaultWindow      = time.Minute
)

// Supervisor restarts a subtree built by New until ctx is canceled or the
// restart intensity is exceeded. Set public field values before calling Run.
type Supervisor struct {
	// New builds a fresh subtree. Called once per (re)start so that no
	// state survives a restart.
	New func() (Tree, error)
	// MaxRestarts within Window before giving up. Zero values get
	// defaults.
	MaxRestarts int
	Window      time.Duration
}

func (s *Supervisor) maxRestarts() int {
	if s.MaxRestarts > 0 {
		return s.MaxRestarts
	}
	return DefaultMaxRestarts
}

func (s *Supervisor) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return DefaultWindow
}

// Run supervises until ctx is canceled (returns nil), the subtree stops
// cleanly on its own (returns nil), or more than MaxRestarts failures land
// within Window (returns the last error).
func (s *Supervisor) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	var restarts []time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		tree, err := s.New()
		if err != nil {
			return groupclient.Errorf("error building supervised tree: %w", err)
		}
		started := time.Now()
		err = run(ctx, tree)
		// all-for-one: whatever the manager's worker set looks like
		// now, it reflects dead state; discard it entirely
		tree.Teardown()
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		log.Printf("supervised tree failed after %v: %v", time.Since(started), err)
		now := time.Now()
		live := restarts[:0]
		for _, t := range restarts {
			if now.Sub(t) < s.window() {
				live = append(live, t)
			}
		}
		restarts = append(live, now)
		if len(restarts) > s.maxRestarts() {
			return groupclient.Errorf("%d restarts in %v, giving up: %w",
				len(restarts), s.window(), err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.NextBackOff()):
		}
	}
}

// run converts a panicking subtree into an error: a manager crash must
// restart the subtree, not the process.
func run(ctx context.Context, tree Tree) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = groupclient.Errorf("supervised tree panic: %v", r)
		}
	}()
	return tree.Run(ctx)
}
