// Package download handles parallel file downloads with progress tracking.
package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/maven"
)

// Task represents a single download task.
type Task struct {
	URL  string
	Dir  string
	Name string
	SHA1 string // Expected SHA1 hash (optional)
	Size int64  // Declared size in bytes
}

// Path is the task's destination file.
func (t Task) Path() string { return filepath.Join(t.Dir, t.Name) }

// HeadInfo is the outcome of a successful HEAD probe.
type HeadInfo struct {
	URL    string
	Size   int64
	Status int
}

// Manager handles parallel downloads.
type Manager struct {
	httpClient     *http.Client
	workerCount    int
	requestTimeout time.Duration
	wallTimeout    time.Duration
	bus            *events.Bus
	log            zerolog.Logger

	downloadedBytes int64
	currentItem     atomic.Value // string
}

// Option tunes a Manager beyond its defaults.
type Option func(*Manager)

// WithTimeouts overrides the per-request and per-download timeouts.
func WithTimeouts(request, wall time.Duration) Option {
	return func(m *Manager) {
		if request > 0 {
			m.requestTimeout = request
		}
		if wall > 0 {
			m.wallTimeout = wall
		}
	}
}

// WithLogger attaches a logger to the manager.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a new download manager publishing on bus.
func NewManager(workerCount int, bus *events.Bus, opts ...Option) *Manager {
	if workerCount <= 0 {
		workerCount = 4
	}
	if bus == nil {
		bus = events.NewBus()
	}

	// Create retryable client with sensible defaults
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil // Silence default logging

	// Configure underlying transport
	retryClient.HTTPClient.Transport = &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	m := &Manager{
		httpClient:     retryClient.StandardClient(),
		workerCount:    workerCount,
		requestTimeout: 10 * time.Second,
		wallTimeout:    5 * time.Minute,
		bus:            bus,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result contains the outcome of a download batch.
type Result struct {
	Completed int
	Failed    int
	Errors    []error
}

// DownloadOne fetches a single file to dir/name, emitting progress per
// chunk. The whole transfer is bounded by the wall-clock timeout.
func (m *Manager) DownloadOne(ctx context.Context, task Task) error {
	ctx, cancel := context.WithTimeout(ctx, m.wallTimeout)
	defer cancel()

	err := m.downloadTask(ctx, task, func(done int64) {
		m.bus.Emit(events.Progress{Done: done, Total: task.Size, Element: task.Name})
	})
	if err != nil {
		m.bus.Emit(events.Error{ErrKind: string(errs.KindOf(err)), Detail: task.URL})
	}
	return err
}

// DownloadMany issues up to maxConcurrent transfers, clamped by the
// task count. Failed tasks surface error events but still count toward
// completion so the batch signals done; the result reports them. A
// periodic aggregator publishes progress, a five-sample moving-average
// speed, and the estimated seconds remaining.
func (m *Manager) DownloadMany(ctx context.Context, tasks []Task, totalBytes int64, maxConcurrent int) (*Result, error) {
	if len(tasks) == 0 {
		return &Result{}, nil
	}
	if maxConcurrent <= 0 {
		maxConcurrent = m.workerCount
	}
	if maxConcurrent > len(tasks) {
		maxConcurrent = len(tasks)
	}
	if totalBytes == 0 {
		for _, t := range tasks {
			totalBytes += t.Size
		}
	}

	atomic.StoreInt64(&m.downloadedBytes, 0)

	workChan := make(chan Task, len(tasks))
	for _, t := range tasks {
		workChan <- t
	}
	close(workChan)

	var (
		failed    int64
		errMu     sync.Mutex
		batchErrs []error
	)

	doneSignal := make(chan struct{})
	aggregatorDone := make(chan struct{})
	go func() {
		defer close(aggregatorDone)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		var samples []float64
		var lastBytes int64
		lastTime := time.Now()

		for {
			select {
			case <-ctx.Done():
				return
			case <-doneSignal:
				return
			case <-ticker.C:
				current := atomic.LoadInt64(&m.downloadedBytes)
				now := time.Now()
				elapsed := now.Sub(lastTime).Seconds()
				if elapsed <= 0 {
					continue
				}
				samples = append(samples, float64(current-lastBytes)/elapsed)
				if len(samples) > 5 {
					samples = samples[len(samples)-5:]
				}
				lastBytes = current
				lastTime = now

				var avg float64
				for _, s := range samples {
					avg += s
				}
				avg /= float64(len(samples))

				element, _ := m.currentItem.Load().(string)
				m.bus.Emit(events.Progress{Done: current, Total: totalBytes, Element: element})
				m.bus.Emit(events.Speed{BytesPerSecond: avg})
				if avg > 0 && totalBytes > current {
					m.bus.Emit(events.Estimated{Seconds: float64(totalBytes-current) / avg})
				}
				m.log.Debug().Str("speed", FormatSpeed(avg)).Int64("done", current).Int64("total", totalBytes).Msg("download progress")
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < maxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range workChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				m.currentItem.Store(task.Name)

				taskCtx, cancel := context.WithTimeout(ctx, m.wallTimeout)
				err := m.downloadTask(taskCtx, task, nil)
				cancel()

				if err != nil {
					atomic.AddInt64(&failed, 1)
					errMu.Lock()
					batchErrs = append(batchErrs, fmt.Errorf("%s: %w", task.URL, err))
					errMu.Unlock()
					m.bus.Emit(events.Error{ErrKind: string(errs.KindOf(err)), Detail: task.URL})
				}
			}
		}()
	}

	wg.Wait()
	close(doneSignal)
	<-aggregatorDone

	if ctx.Err() != nil {
		return nil, errs.Wrap(errs.Aborted, ctx.Err())
	}

	nFailed := int(atomic.LoadInt64(&failed))
	m.bus.Emit(events.Progress{Done: atomic.LoadInt64(&m.downloadedBytes), Total: totalBytes})
	return &Result{
		Completed: len(tasks) - nFailed,
		Failed:    nFailed,
		Errors:    batchErrs,
	}, nil
}

// HeadCheck probes url with a HEAD request, returning its size when the
// server answers 200. Any other status is absence, not an error.
func (m *Manager) HeadCheck(ctx context.Context, rawURL string) (*HeadInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Network, err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.Wrapf(errs.Timeout, err, "HEAD %s", rawURL)
		}
		return nil, errs.Wrap(errs.Network, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	return &HeadInfo{URL: rawURL, Size: resp.ContentLength, Status: resp.StatusCode}, nil
}

// MirrorProbe tries mirrors in order for relativePath, returning the
// first that HEAD-probes as 200.
func (m *Manager) MirrorProbe(ctx context.Context, relativePath string, mirrors []string) *HeadInfo {
	for _, base := range mirrors {
		probeURL, err := url.JoinPath(base, relativePath)
		if err != nil {
			continue
		}
		info, err := m.HeadCheck(ctx, probeURL)
		if err != nil {
			m.log.Debug().Str("mirror", base).Err(err).Msg("mirror probe failed")
			continue
		}
		if info != nil {
			return info
		}
	}
	return nil
}

// downloadTask downloads a single task. When onChunk is non-nil it is
// invoked with the cumulative byte count after every chunk.
func (m *Manager) downloadTask(ctx context.Context, task Task, onChunk func(int64)) error {
	dest := task.Path()

	// Check if file already exists with correct hash
	if task.SHA1 != "" {
		if hash, err := maven.Sha1File(dest); err == nil && strings.EqualFold(hash, task.SHA1) {
			atomic.AddInt64(&m.downloadedBytes, task.Size)
			return nil // Already downloaded
		}
	}

	if err := os.MkdirAll(task.Dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return errs.Wrap(errs.Network, err)
	}

	// Execute request (retries handled by retryablehttp)
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return m.classify(ctx, err, task.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.Network, "unexpected status %d for %s", resp.StatusCode, task.URL)
	}

	// Write to a temp name and rename on success so a failed transfer
	// never leaves a truncated file at the destination.
	tmpPath := dest + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	hasher := sha1.New()
	writer := io.MultiWriter(f, hasher)

	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				f.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("writing file: %w", writeErr)
			}
			written += int64(n)
			atomic.AddInt64(&m.downloadedBytes, int64(n))
			if onChunk != nil {
				onChunk(written)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(tmpPath)
			return m.classify(ctx, readErr, task.URL)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing file: %w", err)
	}

	// Verify hash, deleting the temp file on mismatch so a retry starts
	// clean.
	if task.SHA1 != "" {
		hash := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(hash, task.SHA1) {
			os.Remove(tmpPath)
			return errs.New(errs.HashMismatch, "expected %s, got %s for %s", task.SHA1, hash, task.Name)
		}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

// classify maps transport-level failures onto stable error kinds.
func (m *Manager) classify(ctx context.Context, err error, url string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errs.Wrapf(errs.Timeout, err, "GET %s", url)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return errs.Wrap(errs.Aborted, err)
	default:
		return errs.Wrapf(errs.Network, err, "GET %s", url)
	}
}

// FormatSpeed formats download speed for display.
func FormatSpeed(bytesPerSec float64) string {
	return humanize.Bytes(uint64(bytesPerSec)) + "/s"
}
