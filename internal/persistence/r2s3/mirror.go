package r2s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"voxelscan/internal/logging"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type Stats struct {
	Enqueued       int64
	Dropped        int64
	UploadSuccess  int64
	UploadFail     int64
	LastSuccessUTC int64
	LastErrorUTC   int64
}

// Mirror uploads artifacts in the background. Object keys are the artifact
// path relative to dataDir (or its base name when it lives elsewhere) under
// prefix.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	log     *zap.Logger

	jobs        chan string
	enqueueWait time.Duration
	maxAttempts int
	backoff     func(attempt int) time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once

	enqueued    atomic.Int64
	dropped     atomic.Int64
	success     atomic.Int64
	fail        atomic.Int64
	lastSuccess atomic.Int64
	lastError   atomic.Int64
}

type MirrorOptions struct {
	DataDir       string
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Logger        *zap.Logger
}

func NewMirror(up Uploader, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 64
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 5 * time.Second
	}
	m := &Mirror{
		up:          up,
		dataDir:     opts.DataDir,
		prefix:      strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		log:         logging.OrNop(opts.Logger),
		jobs:        make(chan string, opts.QueueCapacity),
		enqueueWait: opts.EnqueueWait,
		maxAttempts: 4,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 200 * time.Millisecond
		},
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. A nil mirror ignores it.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	m.enqueued.Inc()

	select {
	case m.jobs <- localPath:
		return
	default:
	}

	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		m.dropped.Inc()
		m.log.Warn("mirror queue full; artifact not uploaded", zap.String("path", localPath))
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Enqueued:       m.enqueued.Load(),
		Dropped:        m.dropped.Load(),
		UploadSuccess:  m.success.Load(),
		UploadFail:     m.fail.Load(),
		LastSuccessUTC: m.lastSuccess.Load(),
		LastErrorUTC:   m.lastError.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.ObjectKey(localPath)
	if err != nil {
		m.log.Warn("mirror skip", zap.String("path", localPath), zap.Error(err))
		return
	}
	if err := m.uploadWithRetry(key, localPath); err != nil {
		m.fail.Inc()
		m.lastError.Store(time.Now().UTC().Unix())
		m.log.Error("mirror upload failed", zap.String("key", key), zap.String("path", localPath), zap.Error(err))
		return
	}
	m.success.Inc()
	m.lastSuccess.Store(time.Now().UTC().Unix())
	m.log.Info("artifact uploaded", zap.String("key", key), zap.String("path", localPath))
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		m.log.Debug("mirror attempt failed", zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
		var ue *UploadError
		if errors.As(err, &ue) && !ue.Temporary() {
			return err
		}
		if attempt < m.maxAttempts {
			time.Sleep(m.backoff(attempt))
		}
	}
	return lastErr
}

// ObjectKey maps a local artifact path to its bucket key.
func (m *Mirror) ObjectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}

	key := filepath.Base(absLocal)
	if m.dataDir != "" {
		absBase, err := filepath.Abs(m.dataDir)
		if err != nil {
			return "", err
		}
		if rel, err := filepath.Rel(absBase, absLocal); err == nil {
			rel = filepath.ToSlash(rel)
			if rel != "." && !strings.HasPrefix(rel, "../") {
				key = rel
			}
		}
	}
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}
