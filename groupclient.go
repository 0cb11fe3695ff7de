package groupclient

import "strconv"

// Partition identifies a single topic partition. This is the unit of
// assignment within a consumer group: the group coordinator hands sets of
// these to members, and each one gets exactly one consumption worker.
type Partition struct {
	Topic     string
	Partition int32
}

func (p Partition) String() string {
	return p.Topic + "/" + strconv.FormatInt(int64(p.Partition), 10)
}
