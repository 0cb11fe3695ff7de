// Package groups implements the consumer group membership state machine. A
// GroupMembershipManager keeps one process enrolled in one group: it joins,
// syncs (computing the assignment when elected leader), converges the worker
// set to the received assignment, and heartbeats until the coordinator
// signals a rebalance or the manager is stopped.
//
// All state transitions happen on the single goroutine running Run; there is
// no locking around the protocol logic, only around the fields exposed to
// observers through Phase and Assignment.
package groups

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mkocikowski/groupclient"
	"github.com/mkocikowski/groupclient/assign"
	"github.com/mkocikowski/groupclient/coordinator"
)

// Phase of the membership state machine. Transitions:
//
//	Unjoined → Joining → AwaitingSync → Stable → Rebalancing → (Joining)
//	any → Leaving → Stopped
//
// Rebalancing loops back to Joining keeping the member id and the running
// workers; a session loss goes through Unjoined tearing the workers down.
type Phase int32

const (
	Unjoined Phase = iota
	Joining
	AwaitingSync
	Stable
	Rebalancing
	Leaving
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Unjoined:
		return "unjoined"
	case Joining:
		return "joining"
	case AwaitingSync:
		return "awaiting-sync"
	case Stable:
		return "stable"
	case Rebalancing:
		return "rebalancing"
	case Leaving:
		return "leaving"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Workers is the worker lifecycle controller commanded by the manager. It is
// implemented by workers.Controller. Converge must not return until all
// workers of the previous assignment have stopped and workers for the new
// one are started; Shutdown stops everything and waits.
type Workers interface {
	Converge(ctx context.Context, partitions []groupclient.Partition) error
	Shutdown()
}

// Generation is one stable membership configuration. The member list is
// populated only while this member is the generation's leader.
type Generation struct {
	Id       int32
	IsLeader bool
	Members  []coordinator.Member
}

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultSessionTimeout    = 30 * time.Second
)

// GroupMembershipManager runs the membership protocol for one group member.
// Set public field values before calling Run, do not change them after. The
// zero values of the durations get defaults.
//
// The manager absorbs transient coordinator errors (bounded backoff) and
// protocol fencing responses (silent rejoin). The only externally visible
// failure is the transition to Unjoined on session loss, observable through
// Phase.
type GroupMembershipManager struct {
	GroupId     string
	Topics      []string
	Coordinator coordinator.Client
	Metadata    coordinator.Metadata
	Workers     Workers
	// Assignor computes the assignment when this member is elected
	// leader. Nil means assign.RoundRobin.
	Assignor assign.Assignor
	// HeartbeatInterval is the cadence of heartbeat calls while Stable.
	HeartbeatInterval time.Duration
	// SessionTimeout bounds how long heartbeat transport errors are
	// retried: once no heartbeat has been acknowledged for this long the
	// broker-side session has expired and membership is restarted from
	// scratch.
	SessionTimeout time.Duration
	//
	sync.Mutex
	phase      Phase
	memberId   string
	generation *Generation
	assignment []groupclient.Partition
}

// Phase returns the current phase. Safe for concurrent use.
func (m *GroupMembershipManager) Phase() Phase {
	m.Lock()
	defer m.Unlock()
	return m.phase
}

// Assignment returns the partitions assigned in the current generation, nil
// when not Stable. Safe for concurrent use.
func (m *GroupMembershipManager) Assignment() []groupclient.Partition {
	m.Lock()
	defer m.Unlock()
	return append([]groupclient.Partition(nil), m.assignment...)
}

// MemberId returns the id the coordinator knows this member by, empty before
// the first successful join and after a session loss. Safe for concurrent
// use.
func (m *GroupMembershipManager) MemberId() string {
	m.Lock()
	defer m.Unlock()
	return m.memberId
}

func (m *GroupMembershipManager) init() error {
	if m.GroupId == "" {
		return groupclient.New("GroupId must not be empty")
	}
	if m.Coordinator == nil {
		return groupclient.New("Coordinator must not be nil")
	}
	if m.Metadata == nil {
		return groupclient.New("Metadata must not be nil")
	}
	if m.Workers == nil {
		return groupclient.New("Workers must not be nil")
	}
	if m.Assignor == nil {
		m.Assignor = &assign.RoundRobin{}
	}
	if m.HeartbeatInterval == 0 {
		m.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if m.SessionTimeout == 0 {
		m.SessionTimeout = DefaultSessionTimeout
	}
	return nil
}

func (m *GroupMembershipManager) setPhase(p Phase) {
	m.Lock()
	defer m.Unlock()
	m.phase = p
}

// Run executes the membership protocol until ctx is canceled, then leaves
// the group (best effort), stops all workers, and returns. The returned
// error is nil on clean stop; a non-nil error means the manager hit a
// configuration problem and never joined.
//
// Call Run once. Everything the manager does happens on this goroutine.
func (m *GroupMembershipManager) Run(ctx context.Context) error {
	if err := m.init(); err != nil {
		return err
	}
	rejoin := backoff.NewExponentialBackOff()
	rejoin.InitialInterval = 250 * time.Millisecond
	rejoin.MaxInterval = 10 * time.Second
	rejoin.MaxElapsedTime = 0 // retry forever; there is no standalone fallback
	for {
		if ctx.Err() != nil {
			return m.stop()
		}
		generation, err := m.join()
		if err != nil {
			// includes "unknown member id" on rejoin: member id
			// has been cleared, next attempt joins fresh
			log.Printf("error joining group %s: %v", m.GroupId, err)
			if !m.sleep(ctx, rejoin.NextBackOff()) {
				return m.stop()
			}
			continue
		}
		assignment, err := m.sync(generation)
		switch {
		case err == nil:
		case errors.Is(err, coordinator.ErrRebalanceInProgress),
			errors.Is(err, coordinator.ErrIllegalGeneration):
			// fencing: another member joined while we synced;
			// rejoin right away, workers keep running
			continue
		case errors.Is(err, coordinator.ErrUnknownMemberId):
			m.lost()
			if !m.sleep(ctx, rejoin.NextBackOff()) {
				return m.stop()
			}
			continue
		default:
			log.Printf("error syncing group %s: %v", m.GroupId, err)
			if !m.sleep(ctx, rejoin.NextBackOff()) {
				return m.stop()
			}
			continue
		}
		rejoin.Reset()
		m.install(generation, assignment)
		if err := m.Workers.Converge(ctx, assignment); err != nil {
			// partial assignment is preferable to full group
			// disruption: warn and keep going with the workers
			// that did start
			log.Printf("warning: error converging workers for group %s generation %d: %v",
				m.GroupId, generation.Id, err)
		}
		switch m.heartbeat(ctx, generation.Id) {
		case heartbeatRebalance:
			// generation is stale but the partitions are still
			// ours until the next generation's assignment
			// arrives: keep workers running to minimize downtime
			m.fence()
		case heartbeatSessionLost:
			m.lost()
			if !m.sleep(ctx, rejoin.NextBackOff()) {
				return m.stop()
			}
		case heartbeatStopped:
			return m.stop()
		}
	}
}

// join issues JoinGroup, carrying the member id from the previous generation
// if there is one. On "unknown member id" the stored id is cleared so the
// next attempt starts a fresh membership.
func (m *GroupMembershipManager) join() (*Generation, error) {
	m.Lock()
	m.phase = Joining
	memberId := m.memberId
	m.Unlock()
	resp, err := m.Coordinator.Join(&coordinator.JoinRequest{
		MemberId:     memberId,
		ProtocolName: m.Assignor.Name(),
		Metadata:     m.Assignor.Metadata(m.Topics),
	})
	if err != nil {
		if errors.Is(err, coordinator.ErrUnknownMemberId) {
			m.Lock()
			m.memberId = ""
			m.Unlock()
		}
		return nil, err
	}
	m.Lock()
	m.memberId = resp.MemberId
	m.phase = AwaitingSync
	m.Unlock()
	return &Generation{
		Id:       resp.GenerationId,
		IsLeader: resp.IsLeader,
		Members:  resp.Members,
	}, nil
}

// sync issues SyncGroup and returns this member's assignment for the
// generation. The leader computes the full group assignment first and sends
// it along for distribution; followers send nothing and wait for the
// leader's result.
func (m *GroupMembershipManager) sync(generation *Generation) ([]groupclient.Partition, error) {
	var assignments []coordinator.MemberAssignment
	if generation.IsLeader {
		log.Printf("member %s is leader of group %s generation %d with %d members",
			m.MemberId(), m.GroupId, generation.Id, len(generation.Members))
		partitions, err := m.Metadata.Partitions(m.Topics)
		if err != nil {
			return nil, err
		}
		computed, err := m.Assignor.Assign(generation.Members, partitions)
		if err != nil {
			return nil, groupclient.Errorf("error computing assignment: %w", err)
		}
		for memberId, assignment := range computed {
			assignments = append(assignments, coordinator.MemberAssignment{
				MemberId:   memberId,
				Assignment: assignment,
			})
		}
	}
	data, err := m.Coordinator.Sync(&coordinator.SyncRequest{
		MemberId:     m.MemberId(),
		GenerationId: generation.Id,
		Assignments:  assignments,
	})
	if err != nil {
		return nil, err
	}
	assignment, err := m.Assignor.ParseAssignment(data)
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

func (m *GroupMembershipManager) install(generation *Generation, assignment []groupclient.Partition) {
	m.Lock()
	defer m.Unlock()
	m.generation = generation
	m.assignment = assignment
	log.Printf("group %s generation %d: member %s assigned %v",
		m.GroupId, generation.Id, m.memberId, assignment)
}

type heartbeatResult int

const (
	heartbeatRebalance heartbeatResult = iota
	heartbeatSessionLost
	heartbeatStopped
)

// heartbeat loops on HeartbeatInterval until the coordinator signals a
// rebalance, the session is lost, or ctx is canceled. Transport errors are
// retried at the same cadence; once nothing has been acknowledged for
// SessionTimeout the broker has expired the session even if it never said
// so explicitly.
func (m *GroupMembershipManager) heartbeat(ctx context.Context, generationId int32) heartbeatResult {
	m.setPhase(Stable)
	ticker := time.NewTicker(m.HeartbeatInterval)
	defer ticker.Stop()
	acked := time.Now()
	for {
		select {
		case <-ctx.Done():
			return heartbeatStopped
		case <-ticker.C:
		}
		err := m.Coordinator.Heartbeat(m.MemberId(), generationId)
		switch {
		case err == nil:
			acked = time.Now()
		case errors.Is(err, coordinator.ErrRebalanceInProgress),
			errors.Is(err, coordinator.ErrIllegalGeneration):
			// expected protocol traffic, not a failure
			return heartbeatRebalance
		case errors.Is(err, coordinator.ErrUnknownMemberId):
			return heartbeatSessionLost
		default:
			log.Printf("error heartbeating group %s: %v", m.GroupId, err)
			if time.Since(acked) > m.SessionTimeout {
				return heartbeatSessionLost
			}
		}
	}
}

// fence discards the stale generation and assignment before rejoining.
// Workers deliberately keep running: they are stopped only when the next
// generation's assignment is known (or on session loss).
func (m *GroupMembershipManager) fence() {
	m.Lock()
	defer m.Unlock()
	m.phase = Rebalancing
	m.generation = nil
	m.assignment = nil
}

// lost handles session loss: the group has forgotten this member, so any
// partitions it held are presumed reassigned elsewhere. All workers are
// stopped before any rejoin to rule out duplicate consumption.
func (m *GroupMembershipManager) lost() {
	log.Printf("group %s lost session for member %q, stopping all workers", m.GroupId, m.MemberId())
	m.Workers.Shutdown()
	m.Lock()
	defer m.Unlock()
	m.phase = Unjoined
	m.memberId = ""
	m.generation = nil
	m.assignment = nil
}

// stop leaves the group (best effort), tears down all workers, and
// transitions to Stopped.
func (m *GroupMembershipManager) stop() error {
	m.setPhase(Leaving)
	if memberId := m.MemberId(); memberId != "" {
		if err := m.Coordinator.Leave(memberId); err != nil {
			log.Printf("error leaving group %s: %v", m.GroupId, err)
		}
	}
	m.Workers.Shutdown()
	m.Lock()
	defer m.Unlock()
	m.phase = Stopped
	m.generation = nil
	m.assignment = nil
	return nil
}

// Teardown stops all workers. It exists for the supervisor: when Run exits
// abnormally (panic) the worker set may still be live, and an all-for-one
// restart must not leave it consuming.
func (m *GroupMembershipManager) Teardown() {
	if m.Workers != nil {
		m.Workers.Shutdown()
	}
}

// sleep waits for d or until ctx is canceled; false means canceled.
func (m *GroupMembershipManager) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
