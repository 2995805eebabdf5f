package models

import "time"

// ResultRow is one ranked prediction for one clip.
type ResultRow struct {
	File        string  // Path of the scored clip
	Rank        int     // 1-based rank within the clip's top-K
	Label       string  // Class index rendered as text
	Score       float64 // Score (probability after softmax, if applied)
	InferenceMs float64 // Batch inference time divided by clips in the batch
}

// LatencySummary describes the distribution of per-clip latencies in milliseconds.
type LatencySummary struct {
	Mean   float64
	Median float64
	P90    float64
	P95    float64
}

// RunStats aggregates timing for a single scoring run.
type RunStats struct {
	Files      int           // Distinct files that produced rows
	ModelLoad  time.Duration // Time spent loading the model
	IO         time.Duration // Cumulative clip read time
	Inference  time.Duration // Cumulative model invocation time
	Wall       time.Duration // Wall time from first read to last batch
	Latency    LatencySummary
	Throughput float64 // Files per wall-clock second
	BatchSize  int
}
