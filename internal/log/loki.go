package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultLokiBatch    = 100
	defaultLokiInterval = 5 * time.Second
	defaultLokiAttempts = 3
	lokiPushTimeout     = 10 * time.Second
	lokiBackoff         = 100 * time.Millisecond
)

// LokiConfig configures a LokiWriter.
type LokiConfig struct {
	Endpoint      string
	Labels        map[string]string
	BatchSize     int
	FlushInterval string
	MaxAttempts   int
}

// LokiWriter batches handler output and pushes it to a Loki endpoint.
// Each pushed batch carries one Loki stream per log level, so the level
// is queryable as a label. Pushes run outside the batch lock.
type LokiWriter struct {
	endpoint    string
	labels      map[string]string
	batchSize   int
	interval    time.Duration
	maxAttempts int
	client      *http.Client

	mu      sync.Mutex
	pending []lokiLine
	closed  bool

	pushMu sync.Mutex // serialises pushes so batches arrive in order
	stop   chan struct{}
	done   chan struct{}

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

type lokiLine struct {
	at    time.Time
	level string
	text  string
}

type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiWriter starts a writer with its periodic flusher.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	interval := defaultLokiInterval
	if cfg.FlushInterval != "" {
		d, err := time.ParseDuration(cfg.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid flush interval: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("flush interval must be positive, got %s", d)
		}
		interval = d
	}

	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if labels["job"] == "" {
		labels["job"] = "tsnstream"
	}

	lw := &LokiWriter{
		endpoint:    cfg.Endpoint,
		labels:      labels,
		batchSize:   cfg.BatchSize,
		interval:    interval,
		maxAttempts: cfg.MaxAttempts,
		client:      &http.Client{Timeout: lokiPushTimeout},
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if lw.batchSize <= 0 {
		lw.batchSize = defaultLokiBatch
	}
	if lw.maxAttempts <= 0 {
		lw.maxAttempts = defaultLokiAttempts
	}
	lw.pending = make([]lokiLine, 0, lw.batchSize)

	go lw.loop()
	return lw, nil
}

// Write queues one handler record. A full batch is pushed before Write
// returns; a failed push is counted in Dropped and never surfaces here.
func (lw *LokiWriter) Write(p []byte) (int, error) {
	line := lokiLine{at: time.Now(), level: levelOf(p), text: string(p)}

	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return 0, fmt.Errorf("loki writer is closed")
	}
	lw.pending = append(lw.pending, line)
	var full []lokiLine
	if len(lw.pending) >= lw.batchSize {
		full = lw.takeLocked()
	}
	lw.mu.Unlock()

	if full != nil {
		lw.pushOrDrop(full)
	}
	return len(p), nil
}

// Close stops the flusher and pushes whatever is still queued.
func (lw *LokiWriter) Close() error {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return nil
	}
	lw.closed = true
	rest := lw.takeLocked()
	lw.mu.Unlock()

	close(lw.stop)
	<-lw.done

	if len(rest) == 0 {
		return nil
	}
	if err := lw.push(rest); err != nil {
		lw.dropped.Add(uint64(len(rest)))
		return err
	}
	return nil
}

// Pushed returns the number of lines Loki accepted.
func (lw *LokiWriter) Pushed() uint64 { return lw.pushed.Load() }

// Dropped returns the number of lines lost to failed pushes.
func (lw *LokiWriter) Dropped() uint64 { return lw.dropped.Load() }

func (lw *LokiWriter) loop() {
	defer close(lw.done)
	ticker := time.NewTicker(lw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-lw.stop:
			return
		case <-ticker.C:
			lw.mu.Lock()
			batch := lw.takeLocked()
			lw.mu.Unlock()
			if len(batch) > 0 {
				lw.pushOrDrop(batch)
			}
		}
	}
}

// takeLocked detaches the pending batch. Caller holds lw.mu.
func (lw *LokiWriter) takeLocked() []lokiLine {
	if len(lw.pending) == 0 {
		return nil
	}
	batch := lw.pending
	lw.pending = make([]lokiLine, 0, lw.batchSize)
	return batch
}

func (lw *LokiWriter) pushOrDrop(batch []lokiLine) {
	if err := lw.push(batch); err != nil {
		lw.dropped.Add(uint64(len(batch)))
	}
}

// push sends batch, retrying with doubling backoff up to maxAttempts.
// Client errors (4xx) other than 429 are not retried.
func (lw *LokiWriter) push(batch []lokiLine) error {
	body, err := json.Marshal(buildPushRequest(lw.labels, batch))
	if err != nil {
		return fmt.Errorf("encode loki push: %w", err)
	}

	lw.pushMu.Lock()
	defer lw.pushMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < lw.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(lokiBackoff << (attempt - 1))
		}
		retry, err := lw.post(body)
		if err == nil {
			lw.pushed.Add(uint64(len(batch)))
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return fmt.Errorf("loki push of %d line(s) failed: %w", len(batch), lastErr)
}

// post performs one push and reports whether a failure is worth retrying.
func (lw *LokiWriter) post(body []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lokiPushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lw.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lw.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return false, nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return retry, err
}

// buildPushRequest groups batch by level into one stream each, in level
// order, with lines kept in write order inside a stream.
func buildPushRequest(base map[string]string, batch []lokiLine) lokiPushRequest {
	byLevel := make(map[string][][]string)
	for _, l := range batch {
		byLevel[l.level] = append(byLevel[l.level], []string{
			strconv.FormatInt(l.at.UnixNano(), 10),
			l.text,
		})
	}

	levels := make([]string, 0, len(byLevel))
	for lvl := range byLevel {
		levels = append(levels, lvl)
	}
	sort.Strings(levels)

	req := lokiPushRequest{Streams: make([]lokiStream, 0, len(levels))}
	for _, lvl := range levels {
		labels := make(map[string]string, len(base)+1)
		for k, v := range base {
			labels[k] = v
		}
		labels["level"] = lvl
		req.Streams = append(req.Streams, lokiStream{Stream: labels, Values: byLevel[lvl]})
	}
	return req
}

// levelOf extracts the slog level from a JSON or text handler record.
// Unrecognised lines are labelled "unknown".
func levelOf(p []byte) string {
	if len(p) > 0 && p[0] == '{' {
		var rec struct {
			Level string `json:"level"`
		}
		if json.Unmarshal(p, &rec) == nil && rec.Level != "" {
			return strings.ToLower(rec.Level)
		}
		return "unknown"
	}
	i := bytes.Index(p, []byte("level="))
	if i < 0 || (i > 0 && p[i-1] != ' ') {
		return "unknown"
	}
	rest := p[i+len("level="):]
	if j := bytes.IndexAny(rest, " \n"); j >= 0 {
		rest = rest[:j]
	}
	if len(rest) == 0 {
		return "unknown"
	}
	return strings.ToLower(string(rest))
}
