package coordinator

import (
	"sort"
	"sync"

	"github.com/mkocikowski/libkafka"
	"github.com/mkocikowski/libkafka/api/SyncGroup"
	"github.com/mkocikowski/libkafka/client"

	"github.com/mkocikowski/groupclient"
)

// ProtocolType announced on join. All kafka consumers use "consumer"; the
// coordinator only matches members with equal protocol types.
const ProtocolType = "consumer"

// LibkafkaClient implements Client and Metadata on top of libkafka's
// GroupClient. Set public field values before first call, do not change them
// after. On a transport error the wire client disconnects from the group
// coordinator and re-discovers and re-connects on the next call; no retry
// logic here, retries are the membership manager's job.
type LibkafkaClient struct {
	// Kafka bootstrap either host:port or SRV
	Bootstrap string
	GroupId   string
	//
	sync.Mutex
	client *client.GroupClient
}

func (c *LibkafkaClient) init() {
	c.Lock()
	defer c.Unlock()
	if c.client != nil {
		return
	}
	c.client = &client.GroupClient{
		Bootstrap: c.Bootstrap,
		GroupId:   c.GroupId,
	}
}

// protocolError maps kafka error codes the membership state machine branches
// on to their sentinels. Remaining codes stay libkafka errors; the manager
// treats them like transport errors (retry with backoff).
func protocolError(code int16) error {
	switch code {
	case libkafka.ERR_REBALANCE_IN_PROGRESS:
		return ErrRebalanceInProgress
	case libkafka.ERR_ILLEGAL_GENERATION:
		return ErrIllegalGeneration
	case libkafka.ERR_UNKNOWN_MEMBER_ID:
		return ErrUnknownMemberId
	}
	return groupclient.Wrap(&libkafka.Error{Code: code})
}

func (c *LibkafkaClient) Join(req *JoinRequest) (*JoinResponse, error) {
	c.init() // idempotent
	resp, err := c.client.Join(&client.JoinGroupRequest{
		MemberId:     req.MemberId,
		ProtocolType: ProtocolType,
		ProtocolName: req.ProtocolName,
		Metadata:     req.Metadata,
	})
	if err != nil {
		// wire client has disconnected, will reconnect on next call
		return nil, groupclient.Errorf("error joining group %s: %w", c.GroupId, err)
	}
	if resp.ErrorCode != libkafka.ERR_NONE {
		return nil, protocolError(resp.ErrorCode)
	}
	members := make([]Member, len(resp.Members))
	for i, m := range resp.Members {
		members[i] = Member{MemberId: m.MemberId, Metadata: m.Metadata}
	}
	return &JoinResponse{
		MemberId:     resp.MemberId,
		GenerationId: resp.GenerationId,
		// only the leader is sent the member list
		IsLeader: len(resp.Members) > 0,
		Members:  members,
	}, nil
}

func (c *LibkafkaClient) Sync(req *SyncRequest) ([]byte, error) {
	c.init() // idempotent
	assignments := make([]SyncGroup.Assignment, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		assignments = append(assignments, SyncGroup.Assignment{
			MemberId:   a.MemberId,
			Assignment: a.Assignment,
		})
	}
	resp, err := c.client.Sync(&client.SyncGroupRequest{
		MemberId:     req.MemberId,
		GenerationId: req.GenerationId,
		Assignments:  assignments,
	})
	if err != nil {
		return nil, groupclient.Errorf("error syncing group %s: %w", c.GroupId, err)
	}
	if resp.ErrorCode != libkafka.ERR_NONE {
		return nil, protocolError(resp.ErrorCode)
	}
	return resp.Assignment[:], nil
}

func (c *LibkafkaClient) Heartbeat(memberId string, generationId int32) error {
	c.init() // idempotent
	resp, err := c.client.Heartbeat(memberId, generationId)
	if err != nil {
		return groupclient.Errorf("error heartbeating group %s: %w", c.GroupId, err)
	}
	if resp.ErrorCode != libkafka.ERR_NONE {
		return protocolError(resp.ErrorCode)
	}
	return nil
}

// Leave is a nop at the wire level: the client exposes no LeaveGroup call,
// so the coordinator notices the member is gone when its session times out.
// That satisfies the best-effort contract: partitions get reassigned one
// session timeout later at worst. Once the member stops heartbeating the wire
// client's session is as good as gone anyway.
func (c *LibkafkaClient) Leave(memberId string) error {
	return nil
}

func (c *LibkafkaClient) Close() error {
	// nop; the wire client manages its own connection lifecycle
	return nil
}

// Partitions implements Metadata. Partition lists are sorted ascending so
// that assignors see deterministic input.
func (c *LibkafkaClient) Partitions(topics []string) (map[string][]int32, error) {
	partitions := map[string][]int32{}
	for _, topic := range topics {
		leaders, err := client.GetPartitionLeaders(c.Bootstrap, topic)
		if err != nil {
			return nil, groupclient.Errorf("error getting partitions for topic %s: %w", topic, err)
		}
		p := make([]int32, 0, len(leaders))
		for partition := range leaders {
			p = append(p, partition)
		}
		sort.Slice(p, func(i, j int) bool { return p[i] < p[j] })
		partitions[topic] = p
	}
	return partitions, nil
}

var _ Client = &LibkafkaClient{}
var _ Metadata = &LibkafkaClient{}
