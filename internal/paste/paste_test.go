package paste

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelscan/internal/gdmc"
	"voxelscan/internal/palette"
	"voxelscan/internal/persistence/journal"
	"voxelscan/internal/voxel"
)

// fakeWorld records every batch; failBatch lists 1-based batch numbers to fail.
type fakeWorld struct {
	batches   [][]gdmc.Placement
	failBatch map[int]bool
	blocks    map[[3]int]string
}

func (w *fakeWorld) PutBlocks(ctx context.Context, blocks []gdmc.Placement) (gdmc.PutResult, error) {
	w.batches = append(w.batches, append([]gdmc.Placement(nil), blocks...))
	if w.failBatch[len(w.batches)] {
		return gdmc.PutResult{Sent: len(blocks)}, &gdmc.StatusError{Method: "PUT", URL: "/blocks", Code: 500, Body: "chunk not loaded"}
	}
	if w.blocks == nil {
		w.blocks = make(map[[3]int]string)
	}
	for _, b := range blocks {
		w.blocks[[3]int{b.X, b.Y, b.Z}] = b.ID
	}
	return gdmc.PutResult{Sent: len(blocks), Placed: len(blocks)}, nil
}

type memJournal struct{ entries []journal.Entry }

func (j *memJournal) Append(e journal.Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

func intPtr(v int) *int { return &v }

func sampleVolume(t *testing.T) (*voxel.Volume, voxel.Box) {
	t.Helper()
	src, err := voxel.NewBox([3]int{10, 60, 20}, [3]int{14, 63, 22})
	require.NoError(t, err)
	vol, err := voxel.VolumeFor(src)
	require.NoError(t, err)
	vol.Set(0, 0, 0, 3)
	vol.Set(3, 0, 1, 2)
	vol.Set(1, 1, 0, 6)
	vol.Set(1, 2, 0, 7)
	return vol, src
}

func TestTarget(t *testing.T) {
	src := voxel.BoxAt([3]int{0, 10, 0}, [3]int{100, 100, 100})

	assert.Equal(t, voxel.BoxAt([3]int{100, 10, 0}, [3]int{100, 100, 100}), Target(src, Anchor{}))
	assert.Equal(t, voxel.BoxAt([3]int{100, 270, 0}, [3]int{100, 100, 100}), Target(src, Anchor{BaseY: intPtr(270)}))

	origin := [3]int{-50, 64, 300}
	assert.Equal(t, voxel.BoxAt(origin, [3]int{100, 100, 100}), Target(src, Anchor{BaseY: intPtr(270), Origin: &origin}))
}

func TestParseClearMode(t *testing.T) {
	m, err := ParseClearMode("")
	require.NoError(t, err)
	assert.Equal(t, ClearColumn, m)
	m, err = ParseClearMode("band")
	require.NoError(t, err)
	assert.Equal(t, ClearBand, m)
	_, err = ParseClearMode("all")
	assert.Error(t, err)
}

func TestClearBox(t *testing.T) {
	dest := voxel.BoxAt([3]int{4, 60, 20}, [3]int{4, 3, 2})

	cb, ok := ClearBox(dest, Options{Clear: ClearColumn})
	require.True(t, ok)
	assert.Equal(t, [3]int{4, 320, 2}, cb.Size())
	assert.Equal(t, 0, cb.Min[1])

	cb, ok = ClearBox(dest, Options{Clear: ClearColumn, ClearY: [2]int{-64, 320}})
	require.True(t, ok)
	assert.Equal(t, -64, cb.Min[1])

	cb, ok = ClearBox(dest, Options{Clear: ClearBand})
	require.True(t, ok)
	assert.Equal(t, dest, cb)

	_, ok = ClearBox(dest, Options{Clear: ClearNone})
	assert.False(t, ok)
}

func TestRun_CopySkipsAirAndMapsLabels(t *testing.T) {
	vol, src := sampleVolume(t)
	w := &fakeWorld{}
	prof, err := palette.Builtin("natural")
	require.NoError(t, err)

	rep, err := Run(context.Background(), vol, Options{
		Source:  src,
		Clear:   ClearNone,
		Profile: prof,
		Writer:  w,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Copied)
	assert.Equal(t, vol.Len()-4, rep.Skipped)
	assert.Equal(t, 1, rep.Batches)

	want := map[[3]int]string{
		{14, 60, 20}: prof.BlockFor(3),
		{17, 60, 21}: prof.BlockFor(2),
		{15, 61, 20}: prof.BlockFor(6),
		{15, 62, 20}: prof.BlockFor(7),
	}
	if diff := cmp.Diff(want, w.blocks); diff != "" {
		t.Fatalf("placed blocks mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_CopyOrderIsYZX(t *testing.T) {
	vol, src := sampleVolume(t)
	w := &fakeWorld{}
	_, err := Run(context.Background(), vol, Options{Source: src, Clear: ClearNone, Writer: w})
	require.NoError(t, err)
	require.Len(t, w.batches, 1)
	var ys []int
	for _, p := range w.batches[0] {
		ys = append(ys, p.Y)
	}
	assert.Equal(t, []int{60, 60, 61, 62}, ys)
	assert.Equal(t, 14, w.batches[0][0].X)
	assert.Equal(t, 17, w.batches[0][1].X)
}

func TestRun_ClearBandThenCopy(t *testing.T) {
	vol, src := sampleVolume(t)
	w := &fakeWorld{}
	rep, err := Run(context.Background(), vol, Options{
		Source:    src,
		Anchor:    Anchor{BaseY: intPtr(270)},
		Clear:     ClearBand,
		Writer:    w,
		BatchSize: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, voxel.BoxAt([3]int{14, 270, 20}, [3]int{4, 3, 2}), rep.Dest)
	assert.Equal(t, 24, rep.Cleared)
	assert.Equal(t, 4, rep.Copied)
	assert.Equal(t, 5+1, rep.Batches)

	first := w.batches[0][0]
	assert.Equal(t, gdmc.Placement{X: 14, Y: 270, Z: 20, ID: AirBlock}, first)
	assert.Equal(t, "minecraft:stone", w.blocks[[3]int{14, 270, 20}])
	assert.Equal(t, AirBlock, w.blocks[[3]int{15, 270, 20}])
}

func TestRun_ColumnClearCovers320(t *testing.T) {
	vol, err := voxel.NewVolume(1, 1, 1)
	require.NoError(t, err)
	src := voxel.BoxAt([3]int{0, 10, 0}, [3]int{1, 1, 1})
	w := &fakeWorld{}
	rep, err := Run(context.Background(), vol, Options{Source: src, Writer: w})
	require.NoError(t, err)
	assert.Equal(t, 320, rep.Cleared)
	assert.Equal(t, 0, rep.Copied)
	assert.Equal(t, 320, Estimate(vol, Options{Source: src}))
}

func TestRun_FailedBatchIsCountedAndJournalled(t *testing.T) {
	vol, src := sampleVolume(t)
	w := &fakeWorld{failBatch: map[int]bool{1: true}}
	j := &memJournal{}

	rep, err := Run(context.Background(), vol, Options{
		Source:    src,
		Clear:     ClearNone,
		Writer:    w,
		BatchSize: 2,
		Journal:   j,
		RunID:     "run-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Copied)
	assert.Equal(t, 2, rep.CopyFailed)
	assert.Equal(t, 2, rep.Batches)
	assert.Equal(t, 1, rep.FailedBatches)

	require.Len(t, j.entries, 1)
	e := j.entries[0]
	assert.Equal(t, "copy", e.Phase)
	assert.Equal(t, "run-1", e.Run)
	assert.Equal(t, 500, e.Status)
	assert.Equal(t, "chunk not loaded", e.Error)
	assert.Len(t, e.Placements, 2)
}

func TestRun_DimensionMismatch(t *testing.T) {
	vol, _ := sampleVolume(t)
	_, err := Run(context.Background(), vol, Options{
		Source: voxel.BoxAt([3]int{0, 0, 0}, [3]int{1, 1, 1}),
		Writer: &fakeWorld{},
	})
	assert.Error(t, err)
}

func TestRun_Canceled(t *testing.T) {
	vol, src := sampleVolume(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, vol, Options{Source: src, Writer: &fakeWorld{}})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBatcher_PartialRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in []gdmc.Placement
		_ = json.NewDecoder(r.Body).Decode(&in)
		out := make([]map[string]any, len(in))
		for i := range in {
			out[i] = map[string]any{"status": 1}
		}
		out[0] = map[string]any{"status": 0, "message": "out of bounds"}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c, err := gdmc.New(srv.URL)
	require.NoError(t, err)
	b := &Batcher{Writer: c, Size: 3, Phase: "copy"}
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Add(context.Background(), gdmc.Placement{X: i, ID: "minecraft:stone"}))
	}
	assert.Zero(t, b.Pending())
	got := b.Counts()
	assert.Equal(t, Counts{Sent: 3, Succeeded: 2, Failed: 1, Batches: 1, FailedBatches: 1}, got)
}

// rejectLast refuses the final block of every batch.
type rejectLast struct{}

func (rejectLast) PutBlocks(_ context.Context, blocks []gdmc.Placement) (gdmc.PutResult, error) {
	n := len(blocks)
	return gdmc.PutResult{
		Sent:       n,
		Placed:     n - 1,
		Rejected:   1,
		Messages:   []string{"unknown block"},
		RejectedAt: []int{n - 1},
	}, nil
}

func TestBatcher_PartialRejectionIsJournalled(t *testing.T) {
	j := &memJournal{}
	b := &Batcher{Writer: rejectLast{}, Size: 3, Phase: "clear", RunID: "run-7", Journal: j}
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Add(context.Background(), gdmc.Placement{X: i, ID: "minecraft:air"}))
	}

	assert.Equal(t, Counts{Sent: 3, Succeeded: 2, Failed: 1, Batches: 1, FailedBatches: 1}, b.Counts())
	require.Len(t, j.entries, 1)
	e := j.entries[0]
	assert.Equal(t, "clear", e.Phase)
	assert.Equal(t, "run-7", e.Run)
	assert.Equal(t, http.StatusOK, e.Status)
	assert.Equal(t, "unknown block", e.Error)
	assert.Equal(t, []gdmc.Placement{{X: 2, ID: "minecraft:air"}}, e.Placements)
}

func TestRejectedFallsBackToWholeBatch(t *testing.T) {
	batch := []gdmc.Placement{{X: 0}, {X: 1}}
	assert.Equal(t, batch, rejected(batch, nil))
	assert.Equal(t, batch[1:], rejected(batch, []int{1, 9}))
}

func TestRun_KeepAirPlacesEveryVoxel(t *testing.T) {
	vol, src := sampleVolume(t)
	w := &fakeWorld{}
	opts := Options{Source: src, Clear: ClearBand, KeepAir: true, Writer: w}

	assert.Equal(t, vol.Len()+24, Estimate(vol, opts))

	rep, err := Run(context.Background(), vol, opts)
	require.NoError(t, err)
	assert.Equal(t, 24, rep.Cleared)
	assert.Equal(t, vol.Len(), rep.Copied)
	assert.Zero(t, rep.Skipped)
	assert.Zero(t, rep.CopyFailed)

	require.Len(t, w.batches, 2)
	copied := w.batches[1]
	require.Len(t, copied, vol.Len())
	assert.Contains(t, copied, gdmc.Placement{X: 15, Y: 60, Z: 20, ID: AirBlock})
	assert.Contains(t, copied, gdmc.Placement{X: 14, Y: 60, Z: 20, ID: "minecraft:stone"})
	assert.Equal(t, gdmc.Placement{X: 17, Y: 62, Z: 21, ID: AirBlock}, copied[len(copied)-1])
}
