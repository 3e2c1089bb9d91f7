// Package loki ships zerolog output to a Loki push endpoint.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults applied by NewWriter.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
	DefaultTimeout       = 10 * time.Second
	DefaultJob           = "nlagent"

	pushPath = "/loki/api/v1/push"
)

// Config holds the writer settings.
type Config struct {
	URL           string            // base URL, e.g. "http://10.0.0.1:3100"
	Labels        map[string]string // stream labels; "job" defaults to nlagent
	BatchSize     int
	FlushInterval time.Duration
	Timeout       time.Duration
	ErrorLog      io.Writer // push failures are reported here, nil discards them
}

// Writer is an io.Writer that batches log lines and pushes them to Loki.
// Write never fails so logging keeps working while Loki is unreachable.
type Writer struct {
	url       string
	labels    map[string]string
	client    *http.Client
	batchSize int
	interval  time.Duration
	errLog    io.Writer

	mu     sync.Mutex
	buffer []entry

	trigger  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	flushing atomic.Bool
	pushed   atomic.Uint64
	failures atomic.Uint64
}

type entry struct {
	ts   time.Time
	line string
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// NewWriter returns a writer for cfg. Call Start to begin flushing.
func NewWriter(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = DefaultJob
	}
	if cfg.ErrorLog == nil {
		cfg.ErrorLog = io.Discard
	}

	return &Writer{
		url:       strings.TrimRight(cfg.URL, "/") + pushPath,
		labels:    labels,
		client:    &http.Client{Timeout: cfg.Timeout},
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		errLog:    cfg.ErrorLog,
		buffer:    make([]entry, 0, cfg.BatchSize),
		trigger:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Write buffers one log line. zerolog reuses p, so the line is copied.
func (w *Writer) Write(p []byte) (int, error) {
	line := string(bytes.TrimSpace(p))
	if line == "" {
		return len(p), nil
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, entry{ts: time.Now(), line: line})
	full := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.trigger <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// Start runs the background flusher.
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.Flush()
			case <-w.trigger:
				w.Flush()
			}
		}
	}()
}

// Stop ends the flusher and pushes whatever is still buffered.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	w.Flush()
}

// Flush pushes the buffered lines. Concurrent calls collapse into one.
func (w *Writer) Flush() {
	if !w.flushing.CompareAndSwap(false, true) {
		return
	}
	defer w.flushing.Store(false)

	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	entries := w.buffer
	w.buffer = make([]entry, 0, w.batchSize)
	labels := make(map[string]string, len(w.labels))
	for k, v := range w.labels {
		labels[k] = v
	}
	w.mu.Unlock()

	if err := w.push(labels, entries); err != nil {
		// Only the first few failures are reported.
		if n := w.failures.Add(1); n <= 3 {
			_, _ = fmt.Fprintf(w.errLog, "loki: %v\n", err)
		}
		return
	}
	w.pushed.Add(uint64(len(entries)))
}

func (w *Writer) push(labels map[string]string, entries []entry) error {
	values := make([][2]string, len(entries))
	for i, e := range entries {
		values[i] = [2]string{strconv.FormatInt(e.ts.UnixNano(), 10), e.line}
	}
	data, err := json.Marshal(pushRequest{Streams: []stream{{Stream: labels, Values: values}}})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push: server returned %s", resp.Status)
	}
	return nil
}

// SetLabels merges labels into the stream labels for later pushes.
func (w *Writer) SetLabels(labels map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range labels {
		w.labels[k] = v
	}
}

// Pushed returns the number of lines accepted by Loki.
func (w *Writer) Pushed() uint64 { return w.pushed.Load() }

// Failures returns the number of failed pushes.
func (w *Writer) Failures() uint64 { return w.failures.Load() }
