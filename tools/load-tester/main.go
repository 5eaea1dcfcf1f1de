package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type record struct {
	AgentID   string   `json:"agent_id"`
	RecordID  int64    `json:"record_id"`
	Timestamp string   `json:"timestamp"`
	Channel   string   `json:"channel"`
	EventID   int      `json:"event_id"`
	Provider  string   `json:"provider"`
	EventHost string   `json:"event_host"`
	Level     string   `json:"level"`
	LevelCode int      `json:"level_code"`
	Message   []string `json:"message"`
}

var sampleEvents = []struct {
	id        int
	level     string
	levelCode int
	message   string
}{
	{4624, "Information", 4, "An account was successfully logged on."},
	{4625, "Error", 2, "An account failed to log on. Failure reason: unknown user name or bad password."},
	{4688, "Information", 4, "A new process has been created."},
	{4720, "Warning", 3, "A user account was created."},
	{1102, "Critical", 1, "The audit log was cleared."},
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the ingest server")
	apiKey := flag.String("api-key", "123123123", "API Key for authentication")
	concurrency := flag.Int("c", 10, "Number of concurrent workers, each acting as one agent")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Requests per second limit")
	batch := flag.Int("batch", 0, "Records per bulk request; 0 sends single records")
	flag.Parse()

	target := *baseURL + "/logs/ingest"
	if *batch > 0 {
		target = *baseURL + "/logs/ingest/bulk"
	}

	log.Printf("Starting load test on %s", target)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Batch: %d", *concurrency, *duration, *rps, *batch)

	var wg sync.WaitGroup
	var successCount, errorCount, recordCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: 5 * time.Second}
			agentID := uuid.NewString()
			host := "LOADGEN-" + agentID[:8]
			var nextRecordID int64

			newRecord := func() record {
				nextRecordID++
				ev := sampleEvents[rand.IntN(len(sampleEvents))]
				return record{
					AgentID:   agentID,
					RecordID:  nextRecordID,
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Channel:   "Security",
					EventID:   ev.id,
					Provider:  "Microsoft-Windows-Security-Auditing",
					EventHost: host,
					Level:     ev.level,
					LevelCode: ev.levelCode,
					Message:   []string{ev.message},
				}
			}

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				var (
					payload []byte
					n       = 1
					want    = http.StatusAccepted
				)
				if *batch > 0 {
					records := make([]record, *batch)
					for j := range records {
						records[j] = newRecord()
					}
					payload, _ = json.Marshal(records)
					n, want = *batch, http.StatusCreated
				} else {
					payload, _ = json.Marshal(newRecord())
				}

				req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
				if err != nil {
					continue // Should not happen
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-API-Key", *apiKey)

				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorCount.Add(1)
					continue
				}
				if resp.StatusCode == want {
					successCount.Add(1)
					recordCount.Add(int64(n))
				} else {
					errorCount.Add(1)
				}
				resp.Body.Close()
			}
		}(i)
	}

	wg.Wait()

	total := successCount.Load() + errorCount.Load()
	log.Printf("Load test finished.")
	log.Printf("Total requests: %d", total)
	log.Printf("Successful requests: %d", successCount.Load())
	log.Printf("Failed requests: %d", errorCount.Load())
	log.Printf("Records accepted: %d", recordCount.Load())
	log.Printf("Achieved RPS: %.2f", float64(total)/duration.Seconds())
}
