package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"translog/pkg/clock"
	"translog/pkg/config"
	"translog/pkg/metrics"
	"translog/pkg/translog"
	"translog/pkg/types"
)

// Append throughput benchmark: concurrent writers, one sync barrier per
// writer batch.
func main() {
	dir := flag.String("dir", "./bench-data", "translog directory")
	ops := flag.Int("ops", 100_000, "operations per writer")
	writers := flag.Int("writers", 4, "concurrent writers")
	payload := flag.Int("payload", 256, "payload size in bytes")
	flag.Parse()

	cfg := config.Default().Translog
	cfg.Dir = *dir

	log, err := translog.Open(cfg, metrics.Nop{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	seq := clock.NewAtomic(types.NoSeqNo)
	body := make([]byte, *payload)

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last translog.Location
			for i := 0; i < *ops; i++ {
				loc, err := log.Add(translog.Operation{
					SeqNo:   seq.Next(),
					Term:    1,
					Op:      translog.OpIndex,
					Payload: body,
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "add: %v\n", err)
					return
				}
				last = loc
			}
			if err := log.EnsureSynced(last); err != nil {
				fmt.Fprintf(os.Stderr, "sync: %v\n", err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := *ops * *writers
	fmt.Printf("appended %d ops in %v (%.0f ops/s)\n",
		total, elapsed, float64(total)/elapsed.Seconds())

	stats := log.Stats()
	fmt.Printf("generation=%d size=%d bytes checkpoint=%d\n",
		stats.Generation, stats.SizeInBytes, stats.PersistedCheckpoint)
}
