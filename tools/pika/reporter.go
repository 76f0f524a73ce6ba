package main

import (
	"context"
	"fmt"
	"time"
)

// reportProgress prints one line per second until ctx is done: the last
// second's records and appends, then cumulative totals.
func reportProgress(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	start := time.Now()
	var prev Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cur := stats.GetSnapshot()
			elapsed := now.Sub(start).Seconds()

			fmt.Printf("[%5.0fs] %6d records/s  %5d appends/s  total %8d  errors %4d  avg %.1f records/s\n",
				elapsed,
				cur.Total()-prev.Total(),
				cur.Appends-prev.Appends,
				cur.Total(),
				cur.Errors,
				float64(cur.Total())/elapsed,
			)
			prev = cur
		}
	}
}
