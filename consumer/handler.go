package consumer

import (
	"io"
	"time"

	"github.com/mkocikowski/libkafka"
	"github.com/mkocikowski/libkafka/client/fetcher"
)

// FetcherSeekerCloser is implemented by libkafka fetcher.PartitionFetcher.
// You actually don't get to use a different fetcher, the reason it is an
// interface is to make mocking out tests for ResponseHandlerFunc easier.
type FetcherSeekerCloser interface {
	Fetcher
	Seeker
	io.Closer
}

type Fetcher interface {
	Fetch() (*fetcher.Response, error)
}

type Seeker interface {
	Seek(time.Time) error
	Offset() int64
	SetOffset(int64)
}

// ResponseHandlerFunc inspects an exchange and decides what happens to the
// fetcher's offset (and connection) before the next fetch.
type ResponseHandlerFunc func(FetcherSeekerCloser, *Exchange)

// DefaultHandleFetchResponse implements basic exchange handling logic. Read
// through the code.
func DefaultHandleFetchResponse(f FetcherSeekerCloser, e *Exchange) {
	if e.RequestError != nil {
		// connection has been closed in libkafka
		return
	}
	if e.ErrorCode == libkafka.ERR_OFFSET_OUT_OF_RANGE {
		// if offset out of range (on either end) then go to "newest".
		// this is one of the places where you could apply a lot of
		// custom logic
		if err := f.Seek(fetcher.MessageNewest); err != nil {
			// my default for any "more complicated" errors is to
			// close the connection for the partition client. this
			// forces starting "from scratch" for this partition:
			// looking up the leader and establishing the
			// connection. but! the current offset stays the same
			f.Close()
		}
		// if there was no error, offset has been set to the currently
		// "newest". this exchange is still marked as failed, but the
		// next fetch from this partition should be successful
		return
	}
	if e.ErrorCode != libkafka.ERR_NONE {
		f.Close()
		return
	}
	nextOffset := e.InitialOffset
	for _, b := range e.Batches {
		if b.Error != nil {
			continue
		}
		nextOffset = b.LastOffset() + 1
		// if the last batch failed it will be retried next time
		// (offset will not be advanced past it). if a batch "in the
		// middle" fails it will be skipped (offset will be advanced
		// past it).
	}
	// this is not "committing" the offset. this is just moving the
	// fetcher's offset to the end of the last batch, so that the next call
	// to Fetch starts from the right place.
	f.SetOffset(nextOffset)
	e.FinalOffset = nextOffset - 1
}
