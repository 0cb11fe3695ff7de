/*
Package groupclient implements client-side participation in the kafka
consumer group protocol on top of libkafka.

A GroupMembershipManager (package groups) keeps the process enrolled in a
named group: it joins, computes the partition assignment when elected leader
(package assign), distributes it through the group coordinator (package
coordinator), and heartbeats until the coordinator signals a rebalance. Each
assigned partition gets its own consumption worker (package consumer) managed
by a Controller (package workers) which guarantees that workers for an old
assignment are fully stopped before any worker for a new assignment starts.
Package supervisor ties the manager and its workers into one restartable
tree. See cmd/consumer for example use, or start with consumer.Group which
wires all of the above.
*/
package groupclient
