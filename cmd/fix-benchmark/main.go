package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/fix/pkg/fix"
)

type BenchmarkResult struct {
	Stage             string        `json:"stage"`
	MessageType       string        `json:"message_type"`
	MessagesProcessed int64         `json:"messages_processed"`
	Duration          time.Duration `json:"duration"`
	Throughput        float64       `json:"throughput_msgs_per_sec"`
	AvgLatency        float64       `json:"avg_latency_us"`
	P50Latency        float64       `json:"p50_latency_us"`
	P95Latency        float64       `json:"p95_latency_us"`
	P99Latency        float64       `json:"p99_latency_us"`
	MaxLatency        float64       `json:"max_latency_us"`
}

var adminTypes = []fix.MsgType{
	fix.MsgTypeLogon,
	fix.MsgTypeHeartbeat,
	fix.MsgTypeTestRequest,
	fix.MsgTypeResendRequest,
	fix.MsgTypeLogout,
}

func testReqIDFor(typ fix.MsgType) string {
	switch typ {
	case fix.MsgTypeHeartbeat, fix.MsgTypeTestRequest:
		return "BENCH-1"
	}
	return ""
}

// runWorkers fans fn out over the index range [0, count) and returns the
// merged per-call latencies in nanoseconds.
func runWorkers(count, workers int, fn func(i int) int64) ([]int64, time.Duration) {
	perWorker := make([][]int64, workers)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			lats := make([]int64, 0, count/workers+1)
			for i := w; i < count; i += workers {
				lats = append(lats, fn(i))
			}
			perWorker[w] = lats
		}(w)
	}
	wg.Wait()
	duration := time.Since(start)

	merged := make([]int64, 0, count)
	for _, lats := range perWorker {
		merged = append(merged, lats...)
	}
	return merged, duration
}

func percentileUs(sorted []int64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return float64(sorted[idx]) / 1000.0
}

func summarize(stage, msgType string, latencies []int64, duration time.Duration) BenchmarkResult {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var total int64
	for _, l := range latencies {
		total += l
	}
	n := len(latencies)

	result := BenchmarkResult{
		Stage:             stage,
		MessageType:       msgType,
		MessagesProcessed: int64(n),
		Duration:          duration,
		Throughput:        float64(n) / duration.Seconds(),
		P50Latency:        percentileUs(latencies, 0.50),
		P95Latency:        percentileUs(latencies, 0.95),
		P99Latency:        percentileUs(latencies, 0.99),
	}
	if n > 0 {
		result.AvgLatency = float64(total) / float64(n) / 1000.0
		result.MaxLatency = float64(latencies[n-1]) / 1000.0
	}
	return result
}

func printResult(r BenchmarkResult) {
	fmt.Printf("  Messages:    %d\n", r.MessagesProcessed)
	fmt.Printf("  Duration:    %v\n", r.Duration)
	fmt.Printf("  Throughput:  %.0f msgs/sec\n", r.Throughput)
	fmt.Printf("  Avg Latency: %.2f μs\n", r.AvgLatency)
	fmt.Printf("  P50 Latency: %.2f μs\n", r.P50Latency)
	fmt.Printf("  P99 Latency: %.2f μs\n", r.P99Latency)
	fmt.Printf("  Max Latency: %.2f μs\n", r.MaxLatency)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func benchEncode(codec *fix.Codec, typ fix.MsgType, count, workers int) BenchmarkResult {
	fmt.Printf("\nEncoding %s messages...\n", typ.Name())

	latencies, duration := runWorkers(count, workers, func(i int) int64 {
		start := time.Now()
		if _, err := codec.Encode(typ, uint64(i+1), "BENCH-SENDER", "BENCH-TARGET", "", testReqIDFor(typ)); err != nil {
			fatalf("encode failed: %v", err)
		}
		return time.Since(start).Nanoseconds()
	})

	r := summarize("encode", typ.Name(), latencies, duration)
	printResult(r)
	return r
}

func benchDecode(codec *fix.Codec, typ fix.MsgType, count, workers int) BenchmarkResult {
	fmt.Printf("\nDecoding %s messages...\n", typ.Name())

	frames := make([][]byte, count)
	for i := range frames {
		msg, err := codec.Encode(typ, uint64(i+1), "BENCH-SENDER", "BENCH-TARGET", "", testReqIDFor(typ))
		if err != nil {
			fatalf("encode failed: %v", err)
		}
		frames[i] = msg.Raw
	}

	latencies, duration := runWorkers(count, workers, func(i int) int64 {
		start := time.Now()
		codec.Decode(frames[i])
		return time.Since(start).Nanoseconds()
	})

	r := summarize("decode", typ.Name(), latencies, duration)
	printResult(r)
	return r
}

func benchSplit(codec *fix.Codec, count, batch, workers int) BenchmarkResult {
	fmt.Printf("\nSplitting buffers of %d mixed frames...\n", batch)

	numBuffers := count / batch
	buffers := make([][]byte, numBuffers)
	for b := range buffers {
		var buf []byte
		for i := 0; i < batch; i++ {
			typ := adminTypes[(b*batch+i)%len(adminTypes)]
			msg, err := codec.Encode(typ, uint64(i+1), "BENCH-SENDER", "BENCH-TARGET", "", testReqIDFor(typ))
			if err != nil {
				fatalf("encode failed: %v", err)
			}
			buf = append(buf, msg.Raw...)
		}
		buffers[b] = buf
	}

	var frames int64
	latencies, duration := runWorkers(numBuffers, workers, func(i int) int64 {
		start := time.Now()
		msgs, consumed := codec.Split(buffers[i])
		if consumed != len(buffers[i]) {
			fatalf("split consumed %d of %d bytes", consumed, len(buffers[i]))
		}
		atomic.AddInt64(&frames, int64(len(msgs)))
		return time.Since(start).Nanoseconds()
	})

	// Latencies are per buffer; throughput counts individual frames.
	r := summarize("split", "Mixed", latencies, duration)
	r.MessagesProcessed = frames
	r.Throughput = float64(frames) / duration.Seconds()
	printResult(r)
	return r
}

func main() {
	messages := flag.Int("messages", 100000, "Messages per stage")
	workers := flag.Int("workers", runtime.NumCPU(), "Concurrent workers")
	batch := flag.Int("batch", 100, "Frames per split buffer")
	outDir := flag.String("out", "benchmark-results", "Directory for JSON results")
	flag.Parse()

	fmt.Println("==========================================")
	fmt.Println("   FIX 4.2 Session Codec Benchmark")
	fmt.Println("==========================================")
	fmt.Printf("\nMessages: %d  Workers: %d  Platform: %s/%s\n",
		*messages, *workers, runtime.GOOS, runtime.GOARCH)

	level, _ := log.ToLevel("warn")
	codec := fix.NewCodec(log.NewTestLogger(level))

	allResults := []BenchmarkResult{}
	for _, typ := range adminTypes {
		allResults = append(allResults, benchEncode(codec, typ, *messages, *workers))
	}
	for _, typ := range adminTypes {
		allResults = append(allResults, benchDecode(codec, typ, *messages, *workers))
	}
	allResults = append(allResults, benchSplit(codec, *messages, *batch, *workers))

	timestamp := time.Now().Format("20060102-150405")
	jsonFile := fmt.Sprintf("%s/fix-benchmark-%s.json", *outDir, timestamp)

	jsonData, _ := json.MarshalIndent(allResults, "", "  ")
	os.MkdirAll(*outDir, 0755)
	os.WriteFile(jsonFile, jsonData, 0644)

	fmt.Println("\n==========================================")
	fmt.Println("   Codec Performance Summary")
	fmt.Println("==========================================")

	fmt.Printf("\n%-8s | %-15s | %-12s | %-10s\n", "Stage", "Message Type", "Throughput", "P99 Latency")
	fmt.Println("------------------------------------------------------")

	for _, r := range allResults {
		fmt.Printf("%-8s | %-15s | %10.0f/s | %8.2f μs\n",
			r.Stage, r.MessageType, r.Throughput, r.P99Latency)
	}

	fmt.Printf("\nResults saved to: %s\n", jsonFile)
}
