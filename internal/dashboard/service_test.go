package dashboard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"conduitdash/internal/model"
	"conduitdash/internal/snapshot"
)

type fakeProbe struct {
	mu    sync.Mutex
	state model.ProcessState
	err   error
	calls int
}

func (p *fakeProbe) Probe(ctx context.Context) (model.ProcessState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.state, p.err
}

func (p *fakeProbe) set(state model.ProcessState, err error) {
	p.mu.Lock()
	p.state, p.err = state, err
	p.mu.Unlock()
}

type fakeReader struct {
	mu   sync.Mutex
	snap model.RawSnapshot
	err  error
}

func (r *fakeReader) Read(ctx context.Context) (model.RawSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap, r.err
}

func (r *fakeReader) set(snap model.RawSnapshot, err error) {
	r.mu.Lock()
	r.snap, r.err = snap, err
	r.mu.Unlock()
}

type memStore struct {
	mu        sync.Mutex
	offset    model.OffsetRecord
	rows      []model.StatsRecord
	commitErr error
}

func (m *memStore) ReadOffset(ctx context.Context) (model.OffsetRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset, nil
}

func (m *memStore) Commit(ctx context.Context, rec model.StatsRecord, off model.OffsetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.rows = append(m.rows, rec)
	m.offset = off
	return nil
}

func (m *memStore) Append(ctx context.Context, rec model.StatsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rec)
	return nil
}

func (m *memStore) Query(ctx context.Context, since int64) ([]model.StatsRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StatsRecord
	for _, r := range m.rows {
		if r.Timestamp > since {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ResetOffsets(ctx context.Context) error {
	m.mu.Lock()
	m.offset = model.OffsetRecord{}
	m.mu.Unlock()
	return nil
}

func (m *memStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	m.offset = model.OffsetRecord{}
	m.rows = nil
	m.mu.Unlock()
	return nil
}

func (m *memStore) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type harness struct {
	svc    *Service
	probe  *fakeProbe
	reader *fakeReader
	store  *memStore
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		probe:  &fakeProbe{state: model.ProcessState{Running: true, PID: 42, Args: "./dist/conduit start -m 50 -b 10"}},
		reader: &fakeReader{},
		store:  &memStore{},
		clock:  newFakeClock(),
	}
	h.svc = NewService(h.probe, h.reader, h.store, Options{TTL: 5 * time.Second, Now: h.clock.Now})
	return h
}

// tick forces a fresh cycle by moving past the TTL.
func (h *harness) tick(t *testing.T) model.DisplayStats {
	t.Helper()

	h.clock.Advance(6 * time.Second)
	cards, err := h.svc.GetCurrentStats(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentStats: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("cards=%d", len(cards))
	}
	return cards[0]
}

func TestService_RunningReconcilesAcrossRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	start := h.clock.Now().Add(-90 * time.Minute)

	h.reader.set(model.RawSnapshot{ConnectedClients: 3, TotalBytesUp: 10 << 20, TotalBytesDown: 20 << 20, StartTime: &start}, nil)
	card := h.tick(t)
	if card.Status != model.StatusRunning || card.Clients != 3 {
		t.Fatalf("card=%+v", card)
	}
	if card.Upload != "10.0 MB" || card.Download != "20.0 MB" {
		t.Fatalf("upload=%q download=%q", card.Upload, card.Download)
	}
	if card.MaxClients == nil || *card.MaxClients != 50 || card.Bandwidth == nil || *card.Bandwidth != 10 {
		t.Fatalf("advisory=%v/%v", card.MaxClients, card.Bandwidth)
	}
	if card.Error != nil {
		t.Fatalf("error=%q", *card.Error)
	}

	h.reader.set(model.RawSnapshot{TotalBytesUp: 1 << 20, TotalBytesDown: 1 << 20}, nil)
	card = h.tick(t)
	if card.Upload != "11.0 MB" || card.Download != "21.0 MB" {
		t.Fatalf("after restart upload=%q download=%q", card.Upload, card.Download)
	}
	if card.Uptime != "N/A" {
		t.Fatalf("uptime=%q", card.Uptime)
	}

	off, err := h.svc.Offsets(context.Background())
	if err != nil {
		t.Fatalf("Offsets: %v", err)
	}
	if off.UploadOffset != 10<<20 || off.LastUpload != 1<<20 {
		t.Fatalf("offset=%+v", off)
	}
	if h.store.rowCount() != 2 {
		t.Fatalf("rows=%d", h.store.rowCount())
	}
}

func TestService_CacheThrottlesCycles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.reader.set(model.RawSnapshot{ConnectedClients: 1}, nil)
	ctx := context.Background()

	if _, err := h.svc.GetCurrentStats(ctx); err != nil {
		t.Fatalf("GetCurrentStats: %v", err)
	}
	h.clock.Advance(time.Second)
	if _, err := h.svc.GetCurrentStats(ctx); err != nil {
		t.Fatalf("GetCurrentStats: %v", err)
	}
	if h.probe.calls != 1 || h.store.rowCount() != 1 {
		t.Fatalf("probe calls=%d rows=%d", h.probe.calls, h.store.rowCount())
	}

	h.clock.Advance(5 * time.Second)
	if _, err := h.svc.GetCurrentStats(ctx); err != nil {
		t.Fatalf("GetCurrentStats: %v", err)
	}
	if h.probe.calls != 2 || h.store.rowCount() != 2 {
		t.Fatalf("probe calls=%d rows=%d", h.probe.calls, h.store.rowCount())
	}
}

func TestService_Waiting(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.reader.set(model.RawSnapshot{}, snapshot.ErrNotFound)

	card := h.tick(t)
	if card.Status != model.StatusWaiting {
		t.Fatalf("status=%s", card.Status)
	}
	if card.Error == nil || *card.Error != "Stats file not created yet (waiting for first activity)" {
		t.Fatalf("error=%v", card.Error)
	}
	if h.store.rowCount() != 0 {
		t.Fatalf("rows=%d", h.store.rowCount())
	}
}

func TestService_UnparseableKeepsLastTotals(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.reader.set(model.RawSnapshot{TotalBytesUp: 2 << 20, TotalBytesDown: 3 << 20}, nil)
	h.tick(t)

	h.reader.set(model.RawSnapshot{}, errors.New("decode stats: unexpected EOF"))
	card := h.tick(t)
	if card.Status != model.StatusRunning {
		t.Fatalf("status=%s", card.Status)
	}
	if card.Error == nil || !strings.HasPrefix(*card.Error, "Failed to read stats: ") {
		t.Fatalf("error=%v", card.Error)
	}
	if card.Upload != "2.0 MB" || card.Download != "3.0 MB" {
		t.Fatalf("upload=%q download=%q", card.Upload, card.Download)
	}
	if h.store.rowCount() != 1 {
		t.Fatalf("rows=%d", h.store.rowCount())
	}
}

func TestService_StoppedAppendsLastTotals(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.reader.set(model.RawSnapshot{ConnectedClients: 4, TotalBytesUp: 5 << 20, TotalBytesDown: 6 << 20}, nil)
	h.tick(t)
	before, _ := h.svc.Offsets(context.Background())

	h.probe.set(model.ProcessState{}, nil)
	card := h.tick(t)
	if card.Status != model.StatusStopped || card.Clients != 0 || card.Uptime != "N/A" {
		t.Fatalf("card=%+v", card)
	}
	if card.MaxClients != nil || card.Bandwidth != nil {
		t.Fatalf("advisory on stopped card: %v/%v", card.MaxClients, card.Bandwidth)
	}

	rows, err := h.store.Query(context.Background(), 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	last := rows[len(rows)-1]
	if last.Status != model.StatusStopped || last.UploadBytes != 5<<20 || last.DownloadBytes != 6<<20 || last.Clients != 0 {
		t.Fatalf("last row=%+v", last)
	}
	after, _ := h.svc.Offsets(context.Background())
	if after != before {
		t.Fatalf("offset changed %+v -> %+v", before, after)
	}
}

func TestService_ProbeErrorIsStopped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.probe.set(model.ProcessState{}, errors.New("ps: timed out"))
	if card := h.tick(t); card.Status != model.StatusStopped {
		t.Fatalf("status=%s", card.Status)
	}
}

func TestService_CommitFailureLeavesOffset(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.reader.set(model.RawSnapshot{TotalBytesUp: 4 << 20}, nil)
	h.tick(t)
	before, _ := h.svc.Offsets(context.Background())

	boom := errors.New("disk full")
	h.store.mu.Lock()
	h.store.commitErr = boom
	h.store.mu.Unlock()
	h.reader.set(model.RawSnapshot{TotalBytesUp: 1 << 10}, nil)

	h.clock.Advance(6 * time.Second)
	if _, err := h.svc.GetCurrentStats(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	after, _ := h.svc.Offsets(context.Background())
	if after != before {
		t.Fatalf("offset changed %+v -> %+v", before, after)
	}
}

func TestService_ClearAllRestartsFromZero(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.reader.set(model.RawSnapshot{TotalBytesUp: 8 << 20}, nil)
	h.tick(t)

	if err := h.svc.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	hist, err := h.svc.GetHistory(ctx, 24)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("history=%d", len(hist))
	}

	// Within the TTL, but the cache was invalidated.
	h.reader.set(model.RawSnapshot{TotalBytesUp: 1 << 20}, nil)
	cards, err := h.svc.GetCurrentStats(ctx)
	if err != nil {
		t.Fatalf("GetCurrentStats: %v", err)
	}
	if cards[0].Upload != "1.0 MB" {
		t.Fatalf("upload=%q", cards[0].Upload)
	}
	off, _ := h.svc.Offsets(ctx)
	if off.UploadOffset != 0 {
		t.Fatalf("offset=%+v", off)
	}
}

func TestService_ResetOffsetsKeepsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.reader.set(model.RawSnapshot{TotalBytesUp: 8 << 20}, nil)
	h.tick(t)
	h.reader.set(model.RawSnapshot{TotalBytesUp: 1 << 20}, nil)
	h.tick(t)

	if err := h.svc.ResetOffsets(ctx); err != nil {
		t.Fatalf("ResetOffsets: %v", err)
	}
	if h.store.rowCount() != 2 {
		t.Fatalf("rows=%d", h.store.rowCount())
	}
	off, _ := h.svc.Offsets(ctx)
	if off != (model.OffsetRecord{}) {
		t.Fatalf("offset=%+v", off)
	}
}

func TestService_GetHistoryFilters(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.Now()
	for _, age := range []time.Duration{30 * time.Hour, 2 * time.Hour, 30 * time.Minute} {
		rec := model.StatsRecord{Timestamp: now.Add(-age).UnixMilli(), Status: model.StatusRunning}
		if err := h.store.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	hist, err := h.svc.GetHistory(ctx, 1)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].Server != "local" {
		t.Fatalf("hist=%+v", hist)
	}

	for _, hours := range []int{0, -3} {
		hist, err = h.svc.GetHistory(ctx, hours)
		if err != nil {
			t.Fatalf("GetHistory: %v", err)
		}
		if len(hist) != 2 {
			t.Fatalf("hours=%d history=%d", hours, len(hist))
		}
		if hist[0].Timestamp > hist[1].Timestamp {
			t.Fatalf("not ascending: %+v", hist)
		}
	}
}

func TestService_Summary(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.reader.set(model.RawSnapshot{ConnectedClients: 2, TotalBytesUp: 1000}, nil)
	h.tick(t)
	h.reader.set(model.RawSnapshot{ConnectedClients: 6, TotalBytesUp: 3000}, nil)
	h.tick(t)

	sum, err := h.svc.Summary(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Count != 2 || sum.PeakClients != 6 || sum.UploadedBytes != 2000 || sum.RunningPct != 100 {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestService_SetHost(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.svc.SetHost("203.0.113.7")
	h.svc.SetHost("")
	if card := h.tick(t); card.Host != "203.0.113.7" || card.Name != "local" {
		t.Fatalf("card=%+v", card)
	}
}

func TestFormatUptime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { ts := now.Add(-d); return &ts }

	cases := []struct {
		start *time.Time
		want  string
	}{
		{nil, "N/A"},
		{at(5 * time.Second), "5s"},
		{at(3*time.Minute + 4*time.Second), "3m 4s"},
		{at(26*time.Hour + 7*time.Minute + 9*time.Second), "26h 7m"},
		{at(-time.Minute), "0s"},
	}
	for _, tc := range cases {
		if got := formatUptime(tc.start, now); got != tc.want {
			t.Fatalf("formatUptime(%v)=%q want %q", tc.start, got, tc.want)
		}
	}
}

func TestService_MalformedSnapshotLeavesOffsets(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stats.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	h := newHarness(t)
	h.svc = NewService(h.probe, snapshot.NewFileReader(path), h.store, Options{TTL: 5 * time.Second, Now: h.clock.Now})

	write(`{"connectedClients": 2, "totalBytesUp": 52428800, "totalBytesDown": 10485760}`)
	h.tick(t)
	before, _ := h.svc.Offsets(context.Background())

	for _, body := range []string{
		`null`,
		`{"totalBytesUp": 5}garbage`,
		`{"totalBytesUp": "garbage", "totalBytesDown": 0}`,
	} {
		write(body)
		card := h.tick(t)
		if card.Error == nil || !strings.HasPrefix(*card.Error, "Failed to read stats: ") {
			t.Fatalf("%s: error=%v", body, card.Error)
		}
		if card.Upload != "50.0 MB" || card.Download != "10.0 MB" {
			t.Fatalf("%s: upload=%q download=%q", body, card.Upload, card.Download)
		}
		after, _ := h.svc.Offsets(context.Background())
		if after != before {
			t.Fatalf("%s: offset changed %+v -> %+v", body, before, after)
		}
	}
	if h.store.rowCount() != 1 {
		t.Fatalf("rows=%d", h.store.rowCount())
	}
}
