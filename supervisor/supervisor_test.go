package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkocikowski/groupclient"
)

type fakeTree struct {
	run func(ctx context.Context) error
	//
	sync.Mutex
	teardowns int
}

func (f *fakeTree) Run(ctx context.Context) error { return f.run(ctx) }

func (f *fakeTree) Teardown() {
	f.Lock()
	defer f.Unlock()
	f.teardowns++
}

func (f *fakeTree) torn() int {
	f.Lock()
	defer f.Unlock()
	return f.teardowns
}

// A tree that blocks until canceled: supervisor returns nil on stop and
// tears the tree down exactly once.
func TestUnitStop(t *testing.T) {
	tree := &fakeTree{run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}
	s := &Supervisor{New: func() (Tree, error) { return tree, nil }}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Equal(t, 1, tree.torn())
}

// Every failure discards the whole subtree (teardown) and builds a fresh
// one; exceeding the restart intensity gives up with the last error.
func TestUnitRestartLimit(t *testing.T) {
	boom := groupclient.New("boom")
	var mu sync.Mutex
	var built int
	trees := []*fakeTree{}
	s := &Supervisor{
		MaxRestarts: 2,
		Window:      time.Minute,
		New: func() (Tree, error) {
			mu.Lock()
			defer mu.Unlock()
			built++
			tree := &fakeTree{run: func(ctx context.Context) error { return boom }}
			trees = append(trees, tree)
			return tree, nil
		},
	}
	err := s.Run(context.Background())
	require.Error(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, built, "initial run plus MaxRestarts restarts")
	for _, tree := range trees {
		require.Equal(t, 1, tree.torn(), "all-for-one: every dead tree is torn down")
	}
}

// A panicking manager is a restart, not a process crash.
func TestUnitPanicRestarts(t *testing.T) {
	var mu sync.Mutex
	var built int
	s := &Supervisor{
		MaxRestarts: 1,
		New: func() (Tree, error) {
			mu.Lock()
			defer mu.Unlock()
			built++
			return &fakeTree{run: func(ctx context.Context) error { panic("lost my marbles") }}, nil
		},
	}
	err := s.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic")
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, built)
}

// Clean self-termination (nil error, ctx still live) stops supervision.
func TestUnitCleanExit(t *testing.T) {
	tree := &fakeTree{run: func(ctx context.Context) error { return nil }}
	s := &Supervisor{New: func() (Tree, error) { return tree, nil }}
	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, 1, tree.torn())
}
