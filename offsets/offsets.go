package offsets

import (
	"sync"
	"time"

	"github.com/mkocikowski/groupclient"
	"github.com/mkocikowski/libkafka/client"
)

type DumbOffsetsManager struct {
	Bootstrap string
	GroupId   string
	// Retention of committed offsets on the broker. Zero or negative means
	// broker default.
	Retention time.Duration
	client    *client.GroupClient
	sync.Mutex
}

func (c *DumbOffsetsManager) init() {
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

func (c *DumbOffsetsManager) retentionMs() int64 {
	if c.Retention <= 0 {
		return -1
	}
	return c.Retention.Milliseconds()
}

// Fetch makes a single FetchOffset api call. If there is no active connection
// to the group coordinator, it will first look up the coordinator and connect
// to it (or return en error if unable to do so). On a transport error the
// wire client disconnects from the coordinator and re-connects on the next
// call. There is no retry logic, it is up to the user.
func (c *DumbOffsetsManager) Fetch(topic string, partition int32) (int64, error) {
	c.init() // idempotent
	// if partition does not exist or there are no offsets commited
	// for it there is no error and returned offset is -1. error
	// here if for things like connection problems, error response
	// codes from kafka, etc
	offset, err := c.client.FetchOffset(topic, partition)
	if err != nil {
		err = groupclient.Errorf("error for topic %s partition %d: %w",
			topic, partition, err)
	}
	return offset, err
}

// Commit makes a single CommitOffset api call. See Fetch documentation for
// info on error handling.
func (c *DumbOffsetsManager) Commit(topic string, partition int32, offset int64) error {
	c.init() // idempotent
	err := c.client.CommitOffset(topic, partition, offset, c.retentionMs())
	if err != nil {
		err = groupclient.Errorf("error for topic %s partition %d: %w",
			topic, partition, err)
	}
	return err
}

// CommitAll commits offsets for multiple partitions of a topic, one
// CommitOffset call per partition. It stops at the first error. See Fetch
// documentation for info on error handling.
func (c *DumbOffsetsManager) CommitAll(topic string, offsets map[int32]int64) error {
	for partition, offset := range offsets {
		if err := c.Commit(topic, partition, offset); err != nil {
			return err
		}
	}
	return nil
}

func (c *DumbOffsetsManager) Close() error {
	// nop
	return nil
}
