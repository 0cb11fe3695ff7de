package consumer

import (
	"testing"
	"time"

	"github.com/mkocikowski/libkafka"
	"github.com/mkocikowski/libkafka/client/fetcher"
)

type mockFetcher struct {
	closed bool
	sought bool
	offset int64
}

func (*mockFetcher) Fetch() (*fetcher.Response, error) { return nil, nil }
func (f *mockFetcher) Seek(time.Time) error            { f.sought = true; return nil }
func (*mockFetcher) Offset() int64                     { return 0 }
func (f *mockFetcher) SetOffset(i int64)               { f.offset = i }
func (f *mockFetcher) Close() error                    { f.closed = true; return nil }

func TestUnitDefaultHandleFetchResponse(t *testing.T) {
	e := &Exchange{
		Response:      fetcher.Response{},
		RequestError:  nil,
		InitialOffset: 1,
		Batches: []*Batch{
			{Batch: libkafka.Batch{BaseOffset: 1, LastOffsetDelta: 0}}, // 1 record
			{Batch: libkafka.Batch{BaseOffset: 2, LastOffsetDelta: 0}}, // 1 record
		},
	}
	f := &mockFetcher{}
	DefaultHandleFetchResponse(f, e)
	if e.FinalOffset != 2 {
		t.Fatal(e.FinalOffset)
	}
	if f.offset != 3 {
		t.Fatal(f.offset)
	}
	if f.closed {
		t.Fatal("expected open")
	}
	// now simulate an error that should result in connection getting closed
	e.ErrorCode = libkafka.ERR_LEADER_NOT_AVAILABLE
	DefaultHandleFetchResponse(f, e)
	if !f.closed {
		t.Fatal("expected closed")
	}
}

func TestUnitDefaultHandleFetchResponseOffsetOutOfRange(t *testing.T) {
	e := &Exchange{InitialOffset: 1}
	e.ErrorCode = libkafka.ERR_OFFSET_OUT_OF_RANGE
	f := &mockFetcher{}
	DefaultHandleFetchResponse(f, e)
	if !f.sought {
		t.Fatal("expected seek to newest")
	}
	if f.closed {
		t.Fatal("expected open")
	}
}

func TestUnitDefaultHandleFetchResponseRequestError(t *testing.T) {
	e := &Exchange{RequestError: ErrNilResponse}
	f := &mockFetcher{offset: -1}
	DefaultHandleFetchResponse(f, e)
	// connection already closed in libkafka, handler must not touch anything
	if f.sought || f.closed || f.offset != -1 {
		t.Fatalf("%+v", f)
	}
}
