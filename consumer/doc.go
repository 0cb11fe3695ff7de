// Package consumer implements dynamic, consumer-group based consumption.
//
// A Group joins a kafka consumer group and runs one Worker per assigned
// partition; the set of workers follows the group's partition assignment
// across rebalances. Each fetch request-response pair and its metadata
// (offsets, errors, parsed batches) is captured in an Exchange struct, and
// all workers' exchanges are delivered on a single output channel. An
// exchange, if successful, will have one or more batches, and each batch
// will have one or more records.
//
// The logic for handling fetch errors (what to do about offsets out of
// range, when to close the partition connection) is implemented in
// DefaultHandleFetchResponse, which is of type ResponseHandlerFunc. Read up
// on these if you want to implement your own error handling logic.
//
// Group membership itself (join, sync, heartbeat, rebalance) lives in the
// groups package; worker lifecycle rules in the workers package. This
// package only knows how to consume one partition at a time and how to wire
// everything together.
package consumer
