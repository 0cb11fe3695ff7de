package consumer

import (
	"time"

	"github.com/mkocikowski/libkafka"
	"github.com/mkocikowski/libkafka/batch"
	"github.com/mkocikowski/libkafka/client/fetcher"
	"github.com/mkocikowski/libkafka/compression"
	"github.com/mkocikowski/libkafka/record"

	"github.com/mkocikowski/groupclient"
)

func parseResponseBatch(topic string, partition int32, b []byte) *Batch {
	responseBatch, err := batch.Unmarshal(b)
	if err != nil {
		return &Batch{
			Topic:     topic,
			Partition: partition,
			Error:     groupclient.Errorf("error unmarshaling batch: %w", err),
		}
	}
	return &Batch{
		Batch:           *responseBatch,
		Topic:           topic,
		Partition:       partition,
		CompressedBytes: responseBatch.BatchLengthBytes,
	}
}

// Batch is the unit at which data is fetched from kafka. A successful fetch
// will return one or more batches. Each batch, if unmarshaled successfully,
// will have one or more records in it.
type Batch struct {
	libkafka.Batch
	Topic           string
	Partition       int32
	Error           error
	CompressedBytes int32
}

var ErrCodecNotFound = groupclient.New("codec not found")

// Decompress the batch. Decompressing a batch that is not compressed is a
// nop. Mutates the batch. If Batch.Error is not nil Decompress is a nop.
// Sets Batch.Error on error. Not safe for concurrent use.
func (b *Batch) Decompress(decompressors map[int16]batch.Decompressor) {
	if b.Error != nil {
		return
	}
	d := decompressors[b.Batch.CompressionType()]
	if d == nil {
		b.Error = ErrCodecNotFound
		return
	}
	if err := b.Batch.Decompress(d); err != nil {
		b.Error = err
	}
}

var ErrBatchCompressed = groupclient.New("batch is compressed")

// Records retrieves individual records from the batch. Batch must be
// decompressed.
func (b *Batch) Records() ([]*record.Record, error) {
	if b.Error != nil {
		return nil, b.Error
	}
	if b.Batch.CompressionType() != compression.None {
		return nil, ErrBatchCompressed
	}
	recordsBytes := b.Batch.Records()
	records := make([]*record.Record, len(recordsBytes))
	for i, r := range recordsBytes {
		parsed, err := record.Unmarshal(r)
		if err != nil {
			return nil, err
		}
		records[i] = parsed
	}
	return records, nil
}

func (b *Batch) MaxTimestamp() time.Time {
	return time.Unix(0, b.Batch.MaxTimestamp*int64(time.Millisecond))
}

var ErrNilResponse = groupclient.New("nil response")

// Exchange records a single fetch request-response: the wire response, the
// parsed batches, and the fetcher offset before and after. Exchanges are
// what Group and Worker emit on their output channels.
type Exchange struct {
	fetcher.Response
	RequestError  error
	Batches       []*Batch
	InitialOffset int64
	FinalOffset   int64
}

func (e *Exchange) parseResponse(r *fetcher.Response, err error) {
	if err != nil {
		e.RequestError = groupclient.Wrap(err)
		return
	}
	if r == nil {
		e.RequestError = ErrNilResponse
		return
	}
	e.Response = *r
	for _, b := range r.RecordSet.Batches() {
		e.Batches = append(e.Batches, parseResponseBatch(r.Topic, r.Partition, b))
	}
}
