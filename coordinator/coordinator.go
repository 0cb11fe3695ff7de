// Package coordinator defines the narrow surface through which the rest of
// this module talks to the broker-side group coordinator. The wire encoding,
// connection handling, and coordinator discovery all live behind the Client
// interface; LibkafkaClient is the implementation used in production, fakes
// are used in tests.
package coordinator

import "errors"

// Protocol errors returned by Client implementations. These are the error
// responses the membership state machine branches on; everything else is
// treated as a transport error and retried.
var (
	// ErrRebalanceInProgress means the coordinator is assembling a new
	// generation. Expected during normal operation: rejoin, do not log as
	// a failure.
	ErrRebalanceInProgress = errors.New("rebalance in progress")
	// ErrIllegalGeneration means the request carried a stale generation
	// id. Same handling as ErrRebalanceInProgress.
	ErrIllegalGeneration = errors.New("illegal generation")
	// ErrUnknownMemberId means the coordinator has forgotten this member:
	// the session expired and any partitions it held are presumed
	// reassigned. Fatal to the current membership.
	ErrUnknownMemberId = errors.New("unknown member id")
)

// Member of a consumer group as reported in a join response. Metadata is
// opaque: produced by an assignor on one member, interpreted by the same
// assignor type on the leader, never inspected in between.
type Member struct {
	MemberId string
	Metadata []byte
}

type JoinRequest struct {
	// Empty on first join; on rejoin carries the id assigned by the
	// coordinator so the member keeps its identity across generations.
	MemberId     string
	ProtocolName string
	Metadata     []byte
}

type JoinResponse struct {
	MemberId     string
	GenerationId int32
	// IsLeader is true for exactly one member per generation; only the
	// leader sees the member list.
	IsLeader bool
	Members  []Member
}

// MemberAssignment is one member's slice of a leader-computed assignment,
// opaque to the coordinator.
type MemberAssignment struct {
	MemberId   string
	Assignment []byte
}

type SyncRequest struct {
	MemberId     string
	GenerationId int32
	// Assignments is set only by the generation leader. Followers send an
	// empty slice and receive the leader's result for them.
	Assignments []MemberAssignment
}

// Client issues the four consumer group protocol calls. Implementations must
// be safe for use from a single goroutine; the membership manager serializes
// all calls.
type Client interface {
	Join(*JoinRequest) (*JoinResponse, error)
	// Sync returns this member's assignment slice for the generation.
	Sync(*SyncRequest) ([]byte, error)
	Heartbeat(memberId string, generationId int32) error
	// Leave is best effort: callers log failures and move on.
	Leave(memberId string) error
	Close() error
}

// Metadata lists partitions for topics. The leader needs this to compute an
// assignment; followers never call it.
type Metadata interface {
	Partitions(topics []string) (map[string][]int32, error)
}
