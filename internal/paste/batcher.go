package paste

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"voxelscan/internal/gdmc"
	"voxelscan/internal/logging"
	"voxelscan/internal/persistence/journal"
	"voxelscan/internal/progress"
)

const DefaultBatchSize = 4096

// BlockWriter is the write half of the block API.
type BlockWriter interface {
	PutBlocks(ctx context.Context, blocks []gdmc.Placement) (gdmc.PutResult, error)
}

// Journal receives batches the API refused.
type Journal interface {
	Append(journal.Entry) error
}

type Counts struct {
	Sent          int `json:"sent"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
}

// Batcher buffers placements and sends them Size at a time. A failed batch
// is logged, journalled and counted; it never stops the caller.
type Batcher struct {
	Writer   BlockWriter
	Size     int
	Phase    string
	RunID    string
	Logger   *zap.Logger
	Journal  Journal
	Progress progress.Reporter

	buf    []gdmc.Placement
	counts Counts
}

// Add queues one placement and flushes when the batch is full. The only
// error it returns is ctx's.
func (b *Batcher) Add(ctx context.Context, p gdmc.Placement) error {
	b.buf = append(b.buf, p)
	if len(b.buf) >= b.size() {
		return b.Flush(ctx)
	}
	return nil
}

// Flush sends whatever is buffered.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := b.buf
	b.buf = nil
	log := logging.OrNop(b.Logger)

	b.counts.Batches++
	b.counts.Sent += len(batch)
	start := time.Now()
	res, err := b.Writer.PutBlocks(ctx, batch)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		b.counts.FailedBatches++
		b.counts.Failed += len(batch)
		status, text := describe(err)
		log.Warn("batch failed",
			zap.String("phase", b.Phase),
			zap.Int("batch", b.counts.Batches),
			zap.Int("size", len(batch)),
			zap.Int("status", status),
			zap.String("response", text),
		)
		b.record(batch, status, text)
		b.progress(len(batch))
		return nil
	}

	b.counts.Succeeded += res.Placed
	b.counts.Failed += res.Rejected
	if res.Rejected > 0 {
		b.counts.FailedBatches++
		log.Warn("batch partially rejected",
			zap.String("phase", b.Phase),
			zap.Int("batch", b.counts.Batches),
			zap.Int("placed", res.Placed),
			zap.Int("rejected", res.Rejected),
			zap.Strings("messages", res.Messages),
		)
		b.record(rejected(batch, res.RejectedAt), http.StatusOK, strings.Join(res.Messages, "; "))
	} else {
		log.Debug("batch sent",
			zap.String("phase", b.Phase),
			zap.Int("batch", b.counts.Batches),
			zap.Int("size", len(batch)),
			zap.Duration("took", time.Since(start)),
		)
	}
	b.progress(len(batch))
	return nil
}

func (b *Batcher) Counts() Counts { return b.counts }

// Pending is the number of buffered placements not yet sent.
func (b *Batcher) Pending() int { return len(b.buf) }

func (b *Batcher) size() int {
	if b.Size <= 0 {
		return DefaultBatchSize
	}
	return b.Size
}

func (b *Batcher) progress(n int) {
	if b.Progress != nil {
		b.Progress.Add(n)
	}
}

func (b *Batcher) record(batch []gdmc.Placement, status int, text string) {
	if b.Journal == nil {
		return
	}
	err := b.Journal.Append(journal.Entry{
		Run:        b.RunID,
		Phase:      b.Phase,
		Status:     status,
		Error:      text,
		Placements: batch,
	})
	if err != nil {
		logging.OrNop(b.Logger).Error("journal append failed", zap.Error(err))
	}
}

// rejected picks the refused placements out of batch. Without indexes the
// whole batch is returned so a retry can resend it.
func rejected(batch []gdmc.Placement, at []int) []gdmc.Placement {
	out := make([]gdmc.Placement, 0, len(at))
	for _, i := range at {
		if i >= 0 && i < len(batch) {
			out = append(out, batch[i])
		}
	}
	if len(out) == 0 {
		return batch
	}
	return out
}

func describe(err error) (int, string) {
	var se *gdmc.StatusError
	if errors.As(err, &se) {
		return se.Code, se.Body
	}
	return 0, err.Error()
}
