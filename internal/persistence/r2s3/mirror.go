package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voxelterrain.ai/internal/sim/logic/mathx"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutObject(ctx context.Context, key string, body []byte) error
}

type MirrorOptions struct {
	// Prefix is prepended to every object key.
	Prefix        string
	Workers       int
	QueueCapacity int
	// EnqueueWait bounds how long a full queue may block the caller.
	EnqueueWait time.Duration
	// Backoff is the base retry delay; attempt n waits n*n*Backoff.
	Backoff time.Duration
	Logger  *log.Logger
}

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	EnqueuedTotal      uint64
	CoalescedTotal     uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
}

// Mirror copies files from a terrain directory to a bucket in the background.
// A file queued again before its upload starts is uploaded once, with the
// content it has when the upload begins.
type Mirror struct {
	client  Uploader
	baseDir string
	prefix  string
	backoff time.Duration
	wait    time.Duration
	logger  *log.Logger

	jobs chan string
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}

	enqueuedTotal      atomic.Uint64
	coalescedTotal     atomic.Uint64
	droppedTotal       atomic.Uint64
	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
	lastSuccessUnix    atomic.Int64
	lastErrorUnix      atomic.Int64
}

func NewMirror(client Uploader, baseDir string, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 2048
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	m := &Mirror{
		client:  client,
		baseDir: baseDir,
		prefix:  strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		backoff: opts.Backoff,
		wait:    opts.EnqueueWait,
		logger:  opts.Logger,
		jobs:    make(chan string, opts.QueueCapacity),
		pending: make(map[string]struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.uploadOne(p)
			}
		}()
	}
	return m
}

// RecordBlock queues a freshly written block file.
func (m *Mirror) RecordBlock(lod int, bpos mathx.Vec3i, path string, payload []byte) {
	m.Enqueue(path)
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	m.mu.Lock()
	if _, ok := m.pending[localPath]; ok {
		m.mu.Unlock()
		m.coalescedTotal.Add(1)
		return
	}
	m.pending[localPath] = struct{}{}
	m.mu.Unlock()

	select {
	case m.jobs <- localPath:
		return
	default:
	}
	timer := time.NewTimer(m.wait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		m.mu.Lock()
		delete(m.pending, localPath)
		m.mu.Unlock()
		dropped := m.droppedTotal.Add(1)
		m.printf("block mirror drop local=%s reason=queue_saturated dropped_total=%d", localPath, dropped)
	}
}

// Close waits for queued uploads to finish. Enqueue must not be called after.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.jobs),
		QueueCapacity:      cap(m.jobs),
		EnqueuedTotal:      m.enqueuedTotal.Load(),
		CoalescedTotal:     m.coalescedTotal.Load(),
		DroppedTotal:       m.droppedTotal.Load(),
		UploadSuccessTotal: m.uploadSuccessTotal.Load(),
		UploadFailTotal:    m.uploadFailTotal.Load(),
		LastSuccessUnix:    m.lastSuccessUnix.Load(),
		LastErrorUnix:      m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	// Later writes must queue a new upload from here on.
	m.mu.Lock()
	delete(m.pending, localPath)
	m.mu.Unlock()

	key, err := m.objectKey(localPath)
	if err != nil {
		m.printf("block mirror skip local=%s err=%v", localPath, err)
		return
	}
	body, err := os.ReadFile(localPath)
	if err != nil {
		m.printf("block mirror skip local=%s err=%v", localPath, err)
		return
	}
	if err := m.uploadWithRetry(key, body); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("block mirror upload failed key=%s err=%v", key, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
}

func (m *Mirror) uploadWithRetry(key string, body []byte) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := m.client.PutObject(ctx, key, body)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return lastErr
}

// objectKey maps a file under baseDir to its bucket key.
func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	absBase, err := filepath.Abs(m.baseDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside %s", absLocal, absBase)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
