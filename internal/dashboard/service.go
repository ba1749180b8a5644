// Package dashboard turns probe results and raw counter snapshots into the
// reconciled stats the HTTP layer serves.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"conduitdash/internal/bytesize"
	"conduitdash/internal/metrics"
	"conduitdash/internal/model"
	"conduitdash/internal/probe"
	"conduitdash/internal/reconcile"
	"conduitdash/internal/snapshot"
)

const (
	// HistoryServer is the server name attached to every history point.
	HistoryServer = "local"

	DefaultHistoryHours = 24

	msgWaiting = "Stats file not created yet (waiting for first activity)"
)

// Store is the persistence the service needs.
type Store interface {
	ReadOffset(ctx context.Context) (model.OffsetRecord, error)
	Commit(ctx context.Context, rec model.StatsRecord, offset model.OffsetRecord) error
	Append(ctx context.Context, rec model.StatsRecord) error
	Query(ctx context.Context, since int64) ([]model.StatsRecord, error)
	ResetOffsets(ctx context.Context) error
	ClearAll(ctx context.Context) error
}

type Options struct {
	Name string
	Host string
	TTL  time.Duration
	Now  func() time.Time
}

// Service owns the reconcile cycle. All offset reads and writes go through
// tickMu.
type Service struct {
	probe  probe.ProcessProbe
	reader snapshot.SnapshotReader
	store  Store
	cache  *Cache
	now    func() time.Time
	name   string

	hostMu sync.RWMutex
	host   string

	tickMu sync.Mutex
}

func NewService(p probe.ProcessProbe, r snapshot.SnapshotReader, st Store, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Name == "" {
		opts.Name = "local"
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	return &Service{
		probe:  p,
		reader: r,
		store:  st,
		cache:  NewCache(opts.TTL, opts.Now),
		now:    opts.Now,
		name:   opts.Name,
		host:   opts.Host,
	}
}

func (s *Service) Name() string { return s.name }

func (s *Service) Host() string {
	s.hostMu.RLock()
	defer s.hostMu.RUnlock()
	return s.host
}

// SetHost replaces the host shown on stats cards.
func (s *Service) SetHost(host string) {
	if host == "" {
		return
	}
	s.hostMu.Lock()
	s.host = host
	s.hostMu.Unlock()
}

// GetCurrentStats returns the stats cards, recomputing at most once per TTL.
func (s *Service) GetCurrentStats(ctx context.Context) ([]model.DisplayStats, error) {
	return s.cache.GetOrCompute(ctx, s.tick)
}

func (s *Service) tick(ctx context.Context) ([]model.DisplayStats, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.now()
	card := model.DisplayStats{
		Name:     s.name,
		Host:     s.Host(),
		Status:   model.StatusStopped,
		Upload:   bytesize.Format(0),
		Download: bytesize.Format(0),
		Uptime:   "N/A",
	}

	state, err := s.probe.Probe(ctx)
	if err != nil {
		log.Printf("probe failed, treating service as stopped: %v", err)
		state = model.ProcessState{}
	}

	if !state.Running {
		off, err := s.store.ReadOffset(ctx)
		if err != nil {
			return nil, fmt.Errorf("read offset: %w", err)
		}
		up, down := reconcile.Totals(off)
		rec := model.StatsRecord{
			Timestamp:     now.UnixMilli(),
			Status:        model.StatusStopped,
			UploadBytes:   up,
			DownloadBytes: down,
			Uptime:        "N/A",
		}
		if err := s.store.Append(ctx, rec); err != nil {
			return nil, fmt.Errorf("append stats: %w", err)
		}
		return []model.DisplayStats{card}, nil
	}

	card.Status = model.StatusRunning
	card.MaxClients, card.Bandwidth = probe.Advisory(state.Args)

	raw, err := s.reader.Read(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		card.Status = model.StatusWaiting
		card.Error = strPtr(msgWaiting)
		return []model.DisplayStats{card}, nil
	case err != nil:
		log.Printf("stats snapshot unreadable: %v", err)
		card.Error = strPtr("Failed to read stats: " + err.Error())
		off, oerr := s.store.ReadOffset(ctx)
		if oerr != nil {
			return nil, fmt.Errorf("read offset: %w", oerr)
		}
		up, down := reconcile.Totals(off)
		card.Upload = bytesize.Format(up)
		card.Download = bytesize.Format(down)
		return []model.DisplayStats{card}, nil
	}

	off, err := s.store.ReadOffset(ctx)
	if err != nil {
		return nil, fmt.Errorf("read offset: %w", err)
	}
	res := reconcile.Reconcile(raw, off)
	if res.UploadReset || res.DownloadReset {
		log.Printf("counter reset detected upload=%t download=%t upload_offset=%d download_offset=%d",
			res.UploadReset, res.DownloadReset, res.Offset.UploadOffset, res.Offset.DownloadOffset)
	}

	uptime := formatUptime(raw.StartTime, now)
	rec := model.StatsRecord{
		Timestamp:     now.UnixMilli(),
		Status:        model.StatusRunning,
		Clients:       raw.ConnectedClients,
		UploadBytes:   res.CumulativeUp,
		DownloadBytes: res.CumulativeDown,
		Uptime:        uptime,
	}
	if err := s.store.Commit(ctx, rec, res.Offset); err != nil {
		return nil, fmt.Errorf("commit stats: %w", err)
	}

	card.Clients = raw.ConnectedClients
	card.Upload = bytesize.Format(res.CumulativeUp)
	card.Download = bytesize.Format(res.CumulativeDown)
	card.Uptime = uptime
	return []model.DisplayStats{card}, nil
}

// GetHistory returns rows newer than hours ago, oldest first. Non-positive
// hours mean the default window.
func (s *Service) GetHistory(ctx context.Context, hours int) ([]model.HistoryPoint, error) {
	if hours <= 0 {
		hours = DefaultHistoryHours
	}
	cutoff := s.now().UnixMilli() - int64(hours)*3600000
	rows, err := s.store.Query(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	out := make([]model.HistoryPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.HistoryPoint{
			Timestamp:     r.Timestamp,
			Status:        r.Status,
			Clients:       r.Clients,
			UploadBytes:   r.UploadBytes,
			DownloadBytes: r.DownloadBytes,
			Uptime:        r.Uptime,
			Server:        HistoryServer,
		})
	}
	return out, nil
}

// Summary summarizes the history window ending now.
func (s *Service) Summary(ctx context.Context, window time.Duration) (metrics.Summary, error) {
	if window <= 0 {
		window = DefaultHistoryHours * time.Hour
	}
	since := s.now().Add(-window)
	rows, err := s.store.Query(ctx, since.UnixMilli()-1)
	if err != nil {
		return metrics.Summary{}, fmt.Errorf("query history: %w", err)
	}
	return metrics.Summarize(rows, since), nil
}

func (s *Service) Offsets(ctx context.Context) (model.OffsetRecord, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.store.ReadOffset(ctx)
}

// ResetOffsets forgets prior-run totals. The time series is kept.
func (s *Service) ResetOffsets(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if err := s.store.ResetOffsets(ctx); err != nil {
		return fmt.Errorf("reset offsets: %w", err)
	}
	s.cache.Invalidate()
	log.Printf("offsets reset")
	return nil
}

// ClearAll deletes the time series and the offsets. The next tick behaves
// like the first one.
func (s *Service) ClearAll(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if err := s.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear stats: %w", err)
	}
	s.cache.Invalidate()
	log.Printf("stats and offsets cleared")
	return nil
}

// formatUptime renders the time since start as "1h 2m", "3m 4s" or "5s".
func formatUptime(start *time.Time, now time.Time) string {
	if start == nil {
		return "N/A"
	}
	d := now.Sub(*start)
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	h := secs / 3600
	m := (secs % 3600) / 60
	sec := secs % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

func strPtr(s string) *string { return &s }
