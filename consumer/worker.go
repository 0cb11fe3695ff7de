package consumer

import (
	"context"
	"log"
	"time"

	"github.com/mkocikowski/libkafka/client"
	"github.com/mkocikowski/libkafka/client/fetcher"

	"github.com/mkocikowski/groupclient"
	"github.com/mkocikowski/groupclient/offsets"
)

// Worker consumes a single partition. It implements workers.Worker: the
// lifecycle controller starts one of these per assigned partition and
// cancels its context on teardown; Run returning is the acknowledgment that
// the partition is no longer being consumed. Set public field values before
// calling Run.
type Worker struct {
	// Kafka bootstrap either host:port or SRV
	Bootstrap string
	GroupId   string
	Partition groupclient.Partition
	// Offsets, when set, is used to fetch the starting offset on start
	// and to commit progress every CommitInterval and on stop. When nil
	// the worker starts at newest and commits nothing.
	Offsets        *offsets.DumbOffsetsManager
	CommitInterval time.Duration
	// HandleResponse decides what happens to the fetch offset after each
	// exchange. Nil means DefaultHandleFetchResponse.
	HandleResponse ResponseHandlerFunc
	// Fetch request tuning, passed through to libkafka.
	MinBytes      int32
	MaxBytes      int32
	MaxWaitTimeMs int32
	// Out receives one Exchange per fetch call, successful or not.
	Out chan<- *Exchange
}

const (
	DefaultMaxBytes       = 1 << 20
	DefaultMaxWaitTimeMs  = 500
	DefaultCommitInterval = 5 * time.Second
)

func (w *Worker) init() {
	if w.MinBytes == 0 {
		w.MinBytes = 1
	}
	if w.MaxBytes == 0 {
		w.MaxBytes = DefaultMaxBytes
	}
	if w.MaxWaitTimeMs == 0 {
		w.MaxWaitTimeMs = DefaultMaxWaitTimeMs
	}
	if w.CommitInterval == 0 {
		w.CommitInterval = DefaultCommitInterval
	}
	if w.HandleResponse == nil {
		w.HandleResponse = DefaultHandleFetchResponse
	}
}

// seek positions the fetcher at the committed offset for the partition, or
// at newest when nothing has been committed (or there is no offsets
// manager).
func (w *Worker) seek(f *fetcher.PartitionFetcher) error {
	if w.Offsets != nil {
		offset, err := w.Offsets.Fetch(w.Partition.Topic, w.Partition.Partition)
		if err != nil {
			return groupclient.Errorf("error fetching committed offset for %v: %w", w.Partition, err)
		}
		if offset >= 0 {
			f.SetOffset(offset)
			return nil
		}
	}
	if err := f.Seek(fetcher.MessageNewest); err != nil {
		return groupclient.Errorf("error seeking newest for %v: %w", w.Partition, err)
	}
	return nil
}

func (w *Worker) commit(f *fetcher.PartitionFetcher) {
	if w.Offsets == nil {
		return
	}
	if err := w.Offsets.Commit(w.Partition.Topic, w.Partition.Partition, f.Offset()); err != nil {
		log.Printf("error committing offset for %v: %v", w.Partition, err)
	}
}

func (w *Worker) exchange(f *fetcher.PartitionFetcher) *Exchange {
	e := &Exchange{InitialOffset: f.Offset()}
	e.parseResponse(f.Fetch())
	w.HandleResponse(f, e)
	return e
}

// Run fetches from the partition until ctx is canceled. Fetch and transport
// errors do not end the run: they are reported in exchanges and the
// underlying client reconnects on the next call. An error is returned only
// when the worker cannot establish its starting offset; the lifecycle
// controller then starts a replacement.
func (w *Worker) Run(ctx context.Context) error {
	w.init()
	f := &fetcher.PartitionFetcher{
		PartitionClient: client.PartitionClient{
			Bootstrap: w.Bootstrap,
			Topic:     w.Partition.Topic,
			Partition: w.Partition.Partition,
		},
		MinBytes:      w.MinBytes,
		MaxBytes:      w.MaxBytes,
		MaxWaitTimeMs: w.MaxWaitTimeMs,
	}
	defer f.Close()
	if err := w.seek(f); err != nil {
		return err
	}
	commits := time.NewTicker(w.CommitInterval)
	defer commits.Stop()
	for {
		select {
		case <-ctx.Done():
			w.commit(f) // final commit so a successor resumes close to where we stopped
			return nil
		case <-commits.C:
			w.commit(f)
		default:
		}
		e := w.exchange(f)
		select {
		case w.Out <- e:
		case <-ctx.Done():
			w.commit(f)
			return nil
		}
	}
}
