package processor

import (
	"runtime"
	"time"
)

type rendererSnapshot struct {
	hits   int64
	misses int64
}

// hitRate is the renderer cache hit rate over the batch only.
func hitRate(before, after rendererSnapshot) float64 {
	hits := after.hits - before.hits
	total := hits + after.misses - before.misses
	if total <= 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// aggregate counts results by status and derives throughput, mean per-file
// time and a memory sample. It does not depend on result order.
func aggregate(results []FileResult, elapsed time.Duration, cacheHitRate float64) *BatchResult {
	batch := &BatchResult{
		Total:    len(results),
		Duration: elapsed,
		Results:  results,
	}

	var fileTime time.Duration
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			batch.Success++
		case StatusSkipped:
			batch.Skipped++
		case StatusError:
			batch.Errors++
		}
		fileTime += r.Duration
	}

	if batch.Total > 0 {
		batch.Metrics.MeanFileTime = fileTime / time.Duration(batch.Total)
		if secs := elapsed.Seconds(); secs > 0 {
			batch.Metrics.Throughput = float64(batch.Total) / secs
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	batch.Metrics.PeakMemory = mem.Sys
	batch.Metrics.CacheHitRate = cacheHitRate

	return batch
}
