package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/model"
	"github.com/scribehub/recordcache/internal/platform"
	"github.com/scribehub/recordcache/internal/progress"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	calls atomic.Int32
	fail  map[string]error
}

func (b *fakeBackend) Export(_ context.Context, recordID string, opts Options) ([]byte, error) {
	b.calls.Add(1)
	if err := b.fail[recordID]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s as %s", recordID, opts.Format)), nil
}

type manualTask struct {
	fn        func()
	cancelled bool
	ran       bool
}

func (t *manualTask) Cancel() bool {
	if t.ran || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

func (s *manualScheduler) Schedule(fn func(), _ time.Duration) platform.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTask{fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// fire runs every task that is still pending, as if the window elapsed.
func (s *manualScheduler) fire() {
	s.mu.Lock()
	var due []*manualTask
	for _, t := range s.tasks {
		if !t.cancelled && !t.ran {
			t.ran = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

var exportDay = time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

type fixture struct {
	backend *fakeBackend
	fs      afero.Fs
	sched   *manualScheduler
	bc      *progress.Broadcaster
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &fakeBackend{fail: map[string]error{}},
		fs:      afero.NewMemMapFs(),
		sched:   &manualScheduler{},
		bc:      progress.NewBroadcaster(nil),
	}
	f.orch = NewOrchestrator(
		f.backend,
		platform.NewFileSaver(f.fs, "/exports"),
		f.sched,
		f.bc,
		Config{BulkDelay: time.Millisecond, DisplayWindow: time.Second},
		WithClock(func() time.Time { return exportDay }),
	)
	t.Cleanup(func() {
		f.orch.Close()
		_ = f.bc.Close()
	})
	return f
}

func meetingRequest(id string, format Format) Request {
	return Request{RecordID: id, Kind: model.KindMeeting, Options: Options{Format: format}}
}

func TestExport_SavesPayloadWithDerivedFilename(t *testing.T) {
	f := newFixture(t)

	job, err := f.orch.Export(context.Background(), meetingRequest("m-1", FormatPDF))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "meeting-m-1-2024-03-01.pdf", job.Filename)

	data, err := afero.ReadFile(f.fs, "/exports/meeting-m-1-2024-03-01.pdf")
	require.NoError(t, err)
	assert.Equal(t, "m-1 as pdf", string(data))
}

func TestExport_UnsupportedFormatFailsWithoutNetwork(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Export(context.Background(), meetingRequest("m-1", FormatSRT))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, f.backend.calls.Load())

	_, exists := f.orch.Job("m-1")
	assert.False(t, exists)
}

func TestExport_ProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	_, updates := f.bc.Subscribe()

	_, err := f.orch.Export(context.Background(), Request{
		RecordID: "t-1",
		Kind:     model.KindTranscription,
		Options:  Options{Format: FormatSRT},
	})
	require.NoError(t, err)

	var statuses []string
	var last int
	for len(updates) > 0 {
		u := <-updates
		assert.GreaterOrEqual(t, u.Percentage, last)
		last = u.Percentage
		statuses = append(statuses, u.Status)
	}
	assert.Equal(t, []string{"preparing", "generating", "downloading", "completed"}, statuses)
	assert.Equal(t, 100, last)
}

func TestExport_BackendFailureIsExportError(t *testing.T) {
	f := newFixture(t)
	f.backend.fail["m-1"] = apperrors.NewServerError(502, "bad gateway")

	job, err := f.orch.Export(context.Background(), meetingRequest("m-1", FormatTXT))
	require.Error(t, err)
	assert.True(t, apperrors.IsExport(err))
	assert.Equal(t, StatusError, job.Status)
	assert.Equal(t, 40, job.Progress)
	assert.NotEmpty(t, job.Error)
}

func TestExport_TerminalJobClearedAfterDisplayWindow(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Export(context.Background(), meetingRequest("m-1", FormatJSON))
	require.NoError(t, err)

	job, ok := f.orch.Job("m-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, job.Status)
	_, ok = f.bc.Get("m-1")
	assert.True(t, ok)

	f.sched.fire()

	_, ok = f.orch.Job("m-1")
	assert.False(t, ok)
	_, ok = f.bc.Get("m-1")
	assert.False(t, ok)
	assert.Empty(t, f.orch.Jobs())
}

func TestExport_RestartReplacesDisplayedJob(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Export(context.Background(), meetingRequest("m-1", FormatJSON))
	require.NoError(t, err)
	job, err := f.orch.Export(context.Background(), meetingRequest("m-1", FormatPDF))
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, job.Format)

	u, ok := f.bc.Get("m-1")
	require.True(t, ok)
	assert.Equal(t, "completed", u.Status)

	// Only the timer armed for the newest job may clear it.
	f.sched.fire()
	_, ok = f.orch.Job("m-1")
	assert.False(t, ok)
}

func TestExportBulk_ContinuesOnError(t *testing.T) {
	f := newFixture(t)
	f.backend.fail["m-3"] = errors.New("render failed")

	var reqs []Request
	for i := 1; i <= 5; i++ {
		reqs = append(reqs, meetingRequest(fmt.Sprintf("m-%d", i), FormatDOCX))
	}

	res := f.orch.ExportBulk(context.Background(), reqs)
	assert.Equal(t, 4, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Errors, "m-3")
	assert.Equal(t, int32(5), f.backend.calls.Load())

	batch, ok := f.bc.Get(res.BatchID)
	require.True(t, ok)
	assert.True(t, batch.Terminal)
	assert.Equal(t, 100, batch.Percentage)

	job, ok := f.orch.Job("m-4")
	require.True(t, ok)
	assert.Equal(t, res.BatchID, job.BatchID)

	files, err := afero.ReadDir(f.fs, "/exports")
	require.NoError(t, err)
	assert.Len(t, files, 4)
}

func TestExportBulk_ReportsIncrementalProgress(t *testing.T) {
	f := newFixture(t)
	reqs := []Request{meetingRequest("a", FormatTXT), meetingRequest("b", FormatTXT)}

	_, updates := f.bc.Subscribe()
	res := f.orch.ExportBulk(context.Background(), reqs)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Nil(t, res.Errors)

	var batch []int
	for len(updates) > 0 {
		u := <-updates
		if u.JobID == res.BatchID {
			batch = append(batch, u.Percentage)
		}
	}
	assert.Equal(t, []int{0, 50, 100, 100}, batch)
}

func TestExportBulk_IgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.orch.ExportBulk(ctx, []Request{meetingRequest("a", FormatTXT), meetingRequest("b", FormatTXT)})
	assert.Equal(t, 2, res.Completed)
}

func TestExportBulk_InvalidRecordCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	res := f.orch.ExportBulk(context.Background(), []Request{
		meetingRequest("a", FormatTXT),
		meetingRequest("b", FormatVTT),
	})

	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int32(1), f.backend.calls.Load())
}

func TestExportBulk_DuplicateRecordExportedOnce(t *testing.T) {
	f := newFixture(t)
	f.backend.fail["m-2"] = errors.New("render failed")

	res := f.orch.ExportBulk(context.Background(), []Request{
		meetingRequest("m-1", FormatTXT),
		meetingRequest("m-2", FormatTXT),
		meetingRequest("m-1", FormatPDF),
		meetingRequest("m-2", FormatTXT),
	})

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, res.Errors, res.Failed)
	assert.Contains(t, res.Errors, "m-2")
	assert.Equal(t, int32(2), f.backend.calls.Load())
}

func TestSupportedFormats(t *testing.T) {
	assert.True(t, Supports(model.KindMeeting, FormatPDF))
	assert.False(t, Supports(model.KindMeeting, FormatSRT))
	assert.True(t, Supports(model.KindTranscription, FormatVTT))
	assert.False(t, Supports(model.KindTranscription, FormatPDF))
	assert.Len(t, SupportedFormats(model.KindTranscription), 5)
}
