// Package assign computes partition assignments for consumer group
// generations. The leader of each generation runs an Assignor over the full
// member list; every member (leader included) gets back only its own slice,
// encoded as opaque bytes that travel through the group coordinator.
package assign

import (
	"encoding/json"
	"sort"

	"github.com/mkocikowski/groupclient"
	"github.com/mkocikowski/groupclient/coordinator"
)

// Assignor computes a full group assignment from the member list of a
// generation and the partitions of the subscribed topics. Assign must be
// deterministic: same members in same order plus same partitions must yield
// the same assignment. The returned map must have an entry for every member
// (possibly empty), the per-member partition sets must be pairwise disjoint,
// and their union must be exactly the input partitions. These are
// preconditions of the group protocol, not re-validated by callers: an
// assignor violating them will cause partitions to be consumed twice or not
// at all.
type Assignor interface {
	// Name of the protocol announced on join. Members of a group must
	// agree on it.
	Name() string
	// Metadata to ship with the join request: opaque to everything except
	// Assign on the leader.
	Metadata(topics []string) []byte
	// Assign the given partitions to the given members. Keys of the
	// returned map are member ids, values are encoded member slices in
	// the same format ParseAssignment reads.
	Assign(members []coordinator.Member, partitions map[string][]int32) (map[string][]byte, error)
	// ParseAssignment decodes one member's slice.
	ParseAssignment(data []byte) ([]groupclient.Partition, error)
}

// RoundRobin deals partitions out one at a time to members in the order they
// appear in the generation's member list: all (topic, partition) pairs are
// flattened in a fixed order (topics lexicographic, partition numbers
// ascending) and dealt member-by-member, cycling until exhausted. With P
// partitions and M members every member gets either floor(P/M) or ceil(P/M)
// of them.
//
// Member metadata is the JSON-encoded topic list of the subscription; it is
// carried for coordinator-side bookkeeping and for other assignor
// implementations, RoundRobin itself assigns the partitions it is handed.
type RoundRobin struct{}

func (*RoundRobin) Name() string { return "roundrobin" }

func (*RoundRobin) Metadata(topics []string) []byte {
	b, _ := json.Marshal(topics)
	return b
}

func (*RoundRobin) Assign(members []coordinator.Member, partitions map[string][]int32) (map[string][]byte, error) {
	if len(members) == 0 {
		return nil, groupclient.New("no members to assign to")
	}
	dealt := make(map[string][]groupclient.Partition, len(members))
	for _, m := range members {
		dealt[m.MemberId] = []groupclient.Partition{}
	}
	var i int
	for _, p := range flatten(partitions) {
		m := members[i%len(members)].MemberId
		dealt[m] = append(dealt[m], p)
		i++
	}
	assignments := make(map[string][]byte, len(members))
	for m, p := range dealt {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, groupclient.Errorf("error marshaling assignment for member %s: %w", m, err)
		}
		assignments[m] = b
	}
	return assignments, nil
}

func (*RoundRobin) ParseAssignment(data []byte) ([]groupclient.Partition, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p []groupclient.Partition
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, groupclient.Errorf("error unmarshaling assignment: %w", err)
	}
	return p, nil
}

// flatten topic partitions into the fixed deal order: topics lexicographic,
// partition numbers ascending within a topic.
func flatten(partitions map[string][]int32) []groupclient.Partition {
	topics := make([]string, 0, len(partitions))
	for t := range partitions {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	var flat []groupclient.Partition
	for _, t := range topics {
		p := append([]int32(nil), partitions[t]...)
		sort.Slice(p, func(i, j int) bool { return p[i] < p[j] })
		for _, n := range p {
			flat = append(flat, groupclient.Partition{Topic: t, Partition: n})
		}
	}
	return flat
}

var _ Assignor = &RoundRobin{}
