// Consumer joins a consumer group and prints consumed records to stdout one
// line at a time. Run several copies with the same group id and watch
// partitions get rebalanced between them. This is meant as an example of how
// to use the library.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/mkocikowski/libkafka/batch"
	"github.com/mkocikowski/libkafka/compression"

	codecs "github.com/mkocikowski/groupclient/compression"
	"github.com/mkocikowski/groupclient/consumer"
)

var (
	projectName  string
	buildVersion string
	buildTime    string
)

func main() {
	rand.Seed(time.Now().UnixNano())
	bootstrap := flag.String("bootstrap", "localhost:9092", "host:port or SRV")
	group := flag.String("group", fmt.Sprintf("test-%x", rand.Uint32()), "consumer group id")
	topics := flag.String("topics", "", "comma separated list of topics to consume")
	commit := flag.Bool("commit", true, "commit offsets to the group coordinator")
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile | log.LUTC | log.Lmicroseconds)
	log.Printf("%s %s %s %s", projectName, buildVersion, buildTime, runtime.Version())
	if *topics == "" {
		log.Fatal("-topics must not be empty")
	}
	//
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		log.Println(<-c)
		cancel()
	}()
	c := &consumer.Group{
		Bootstrap:     *bootstrap,
		GroupId:       *group,
		Topics:        strings.Split(*topics, ","),
		CommitOffsets: *commit,
	}
	exchanges, err := c.Start(ctx)
	if err != nil {
		log.Fatal(err)
	}
	decompressors := map[int16]batch.Decompressor{
		compression.None: &codecs.None{},
		compression.Lz4:  &codecs.Lz4{},
		compression.Zstd: &codecs.Zstd{},
	}
	for e := range exchanges {
		if e.RequestError != nil {
			log.Println(e.RequestError)
			continue
		}
		for _, b := range e.Batches {
			b.Decompress(decompressors)
			records, err := b.Records()
			if err != nil {
				log.Println(err)
				continue
			}
			for _, r := range records {
				fmt.Println(string(r.Value))
			}
		}
	}
}
