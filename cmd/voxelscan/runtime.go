package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"voxelscan/internal/palette"
	"voxelscan/internal/paste"
	"voxelscan/internal/persistence/index"
	"voxelscan/internal/persistence/journal"
	"voxelscan/internal/persistence/r2s3"
)

// runtime bundles the side stores a run reports to. Each part is optional:
// a nil index or mirror silently drops what it is given.
type runtime struct {
	log     *zap.Logger
	idx     *index.SQLiteIndex
	mirror  *r2s3.Mirror
	journal *journal.Writer
}

func (a *app) openRuntime(withJournal bool) *runtime {
	rt := &runtime{log: a.log}

	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		a.log.Warn("data dir unavailable; run index disabled", zap.Error(err))
	} else if idx, err := index.OpenSQLite(a.cfg.IndexPath(), a.log.Named("index")); err != nil {
		a.log.Warn("run index unavailable", zap.String("path", a.cfg.IndexPath()), zap.Error(err))
	} else {
		rt.idx = idx
	}

	if m := a.cfg.Mirror; m.Enabled() {
		client, err := r2s3.New(m.Endpoint, m.Bucket, m.AccessKeyID, m.SecretAccessKey, r2s3.WithRegion(m.Region))
		if err != nil {
			a.log.Warn("artifact mirror disabled", zap.Error(err))
		} else {
			rt.mirror = r2s3.NewMirror(client, r2s3.MirrorOptions{
				DataDir: a.cfg.DataDir,
				Prefix:  m.Prefix,
				Workers: m.Workers,
				Logger:  a.log.Named("mirror"),
			})
		}
	}

	if withJournal {
		rt.journal = journal.NewWriter(a.cfg.JournalDir())
	}
	return rt
}

// journalSink keeps a nil writer from becoming a non-nil paste.Journal.
func (rt *runtime) journalSink() paste.Journal {
	if rt.journal == nil {
		return nil
	}
	return rt.journal
}

func (rt *runtime) record(ctx context.Context, run index.Run, prof *palette.Profile) string {
	if rt.idx == nil {
		if run.ID == "" {
			run.ID = index.NewRunID()
		}
		return run.ID
	}
	if prof != nil {
		if err := rt.idx.UpsertProfile(ctx, prof); err != nil {
			rt.log.Warn("index profile", zap.Error(err))
		}
	}
	id, err := rt.idx.Record(run)
	if err != nil {
		rt.log.Warn("index record", zap.String("run", id), zap.Error(err))
	}
	return id
}

func (rt *runtime) upload(paths ...string) {
	for _, p := range paths {
		if p != "" {
			rt.mirror.Enqueue(p)
		}
	}
}

func (rt *runtime) Close() {
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.log.Warn("journal close", zap.Error(err))
		}
	}
	if rt.mirror != nil {
		rt.mirror.Close()
		st := rt.mirror.Stats()
		rt.log.Debug("mirror done", zap.Int64("uploaded", st.UploadSuccess), zap.Int64("failed", st.UploadFail))
	}
	if rt.idx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.idx.Sync(ctx); err != nil && !errors.Is(err, index.ErrClosed) {
			rt.log.Warn("index sync", zap.Error(err))
		}
		_ = rt.idx.Close()
	}
}

// defaultArtifact names a new file <data_dir>/<dir>/<stem>-<time><ext>.
func (a *app) defaultArtifact(dir, stem, ext string, now time.Time) string {
	return filepath.Join(a.cfg.DataDir, dir, stem+"-"+now.UTC().Format("20060102-150405")+ext)
}
