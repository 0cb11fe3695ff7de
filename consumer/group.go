package consumer

import (
	"context"
	"log"
	"time"

	"github.com/mkocikowski/groupclient"
	"github.com/mkocikowski/groupclient/assign"
	"github.com/mkocikowski/groupclient/coordinator"
	"github.com/mkocikowski/groupclient/groups"
	"github.com/mkocikowski/groupclient/offsets"
	"github.com/mkocikowski/groupclient/supervisor"
	"github.com/mkocikowski/groupclient/workers"
)

// Group consumes topics as a member of a consumer group: partitions are
// assigned by the group's generation leader and consumed by one Worker each,
// with workers stopped and started as assignments change. Set public field
// values before calling Start. Do not change them after.
type Group struct {
	// Kafka bootstrap either host:port or SRV
	Bootstrap string
	GroupId   string
	Topics    []string
	// Assignor decides how the generation leader spreads partitions over
	// members. Nil means round-robin.
	Assignor          assign.Assignor
	HeartbeatInterval time.Duration
	SessionTimeout    time.Duration
	// CommitOffsets enables committing fetch progress to the group
	// coordinator (and resuming from committed offsets on start).
	CommitOffsets  bool
	CommitInterval time.Duration
	// Fetch request tuning, passed through to every worker.
	MinBytes      int32
	MaxBytes      int32
	MaxWaitTimeMs int32
	// Restart limits: per-worker consecutive crashes, and manager
	// restarts within the supervisor window. Zero values get defaults.
	MaxWorkerRestarts  int
	MaxManagerRestarts int
	//
	out chan *Exchange
}

func (g *Group) offsets() *offsets.DumbOffsetsManager {
	if !g.CommitOffsets {
		return nil
	}
	return &offsets.DumbOffsetsManager{
		Bootstrap: g.Bootstrap,
		GroupId:   g.GroupId,
	}
}

// Start joining the group and consuming. Exchanges from all partition
// workers are delivered on the returned channel, which is closed when the
// group stops: on ctx cancel (after leaving the group and stopping all
// workers) or when the supervisor gives up restarting a repeatedly crashing
// membership manager.
func (g *Group) Start(ctx context.Context) (<-chan *Exchange, error) {
	if g.Bootstrap == "" {
		return nil, groupclient.New("Bootstrap must not be empty")
	}
	if g.GroupId == "" {
		return nil, groupclient.New("GroupId must not be empty")
	}
	if len(g.Topics) == 0 {
		return nil, groupclient.New("Topics must not be empty")
	}
	g.out = make(chan *Exchange, 1)
	s := &supervisor.Supervisor{
		New:         g.newTree,
		MaxRestarts: g.MaxManagerRestarts,
	}
	go func() {
		// Run returns only after the current tree is fully torn down,
		// so no worker can be sending on the channel being closed
		if err := s.Run(ctx); err != nil {
			log.Printf("group %s consumer stopped: %v", g.GroupId, err)
		}
		close(g.out)
	}()
	return g.out, nil
}

// newTree builds a fresh membership manager commanding a fresh worker
// controller. Called by the supervisor on start and after every manager
// failure, so no membership state survives a restart.
func (g *Group) newTree() (supervisor.Tree, error) {
	coordinatorClient := &coordinator.LibkafkaClient{
		Bootstrap: g.Bootstrap,
		GroupId:   g.GroupId,
	}
	offsetsManager := g.offsets()
	controller := &workers.Controller{
		MaxRestarts: g.MaxWorkerRestarts,
		Start: func(p groupclient.Partition) (workers.Worker, error) {
			return &Worker{
				Bootstrap:      g.Bootstrap,
				GroupId:        g.GroupId,
				Partition:      p,
				Offsets:        offsetsManager,
				CommitInterval: g.CommitInterval,
				MinBytes:       g.MinBytes,
				MaxBytes:       g.MaxBytes,
				MaxWaitTimeMs:  g.MaxWaitTimeMs,
				Out:            g.out,
			}, nil
		},
	}
	return &groups.GroupMembershipManager{
		GroupId:           g.GroupId,
		Topics:            g.Topics,
		Coordinator:       coordinatorClient,
		Metadata:          coordinatorClient,
		Workers:           controller,
		Assignor:          g.Assignor,
		HeartbeatInterval: g.HeartbeatInterval,
		SessionTimeout:    g.SessionTimeout,
	}, nil
}
