package consumer

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/mkocikowski/libkafka/client"
	"github.com/mkocikowski/libkafka/client/producer"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

const bootstrap = "localhost:9092"

func createTopic(t *testing.T) string {
	t.Helper()
	topic := fmt.Sprintf("test-%x", rand.Uint32())
	if _, err := client.CallCreateTopic(bootstrap, topic, 1, 1); err != nil {
		t.Fatal(err)
	}
	return topic
}

func TestIntegrationGroupConsume(t *testing.T) {
	topic := createTopic(t)
	g := &Group{
		Bootstrap:     bootstrap,
		GroupId:       fmt.Sprintf("test-%x", rand.Uint32()),
		Topics:        []string{topic},
		CommitOffsets: true,
		MaxWaitTimeMs: 100,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exchanges, err := g.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// the first exchange means the group is stable and the partition worker
	// is fetching. records produced from here on will be consumed
	select {
	case <-exchanges:
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for the group to start consuming")
	}
	p := &producer.PartitionProducer{
		PartitionClient: client.PartitionClient{
			Bootstrap: bootstrap,
			Topic:     topic,
			Partition: 0,
		},
		Acks:      1,
		TimeoutMs: 1000,
	}
	if _, err := p.ProduceStrings(time.Now(), "foo", "bar"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ProduceStrings(time.Now(), "monkey", "banana"); err != nil {
		t.Fatal(err)
	}
	//
	var values []string
	deadline := time.After(30 * time.Second)
	for len(values) < 4 {
		select {
		case e := <-exchanges:
			if e.RequestError != nil {
				continue
			}
			for _, b := range e.Batches {
				records, err := b.Records()
				if err != nil {
					t.Fatal(err)
				}
				for _, r := range records {
					values = append(values, string(r.Value))
				}
			}
		case <-deadline:
			t.Fatalf("%+v", values)
		}
	}
	if s := values[3]; s != "banana" {
		t.Fatal(s)
	}
	cancel()
	for range exchanges { // drain until the group closes the channel
	}
}
