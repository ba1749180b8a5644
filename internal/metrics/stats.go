package metrics

import (
	"math"
	"sort"
	"time"

	"conduitdash/internal/model"
)

// Summary is a basic statistics snapshot over a history window.
type Summary struct {
	Count           int       `json:"count"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	PeakClients     int64     `json:"peak_clients"`
	AvgClients      float64   `json:"avg_clients"`
	P95Clients      int64     `json:"p95_clients"`
	UploadedBytes   int64     `json:"uploaded_bytes"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	RunningPct      float64   `json:"running_pct"`
}

// Summarize computes summary metrics for rows at or after since.
//
// Transferred bytes are the sum of positive steps between consecutive
// cumulative readings, so an administrative offset reset inside the window
// does not produce a negative total.
func Summarize(items []model.StatsRecord, since time.Time) Summary {
	cutoff := since.UnixMilli()
	filtered := make([]model.StatsRecord, 0, len(items))
	for _, r := range items {
		if r.Timestamp >= cutoff {
			filtered = append(filtered, r)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp < filtered[j].Timestamp
	})

	clients := make([]int64, 0, len(filtered))
	var sumClients, peak int64
	var up, down int64
	running := 0

	for i, r := range filtered {
		clients = append(clients, r.Clients)
		sumClients += r.Clients
		if r.Clients > peak {
			peak = r.Clients
		}
		if r.Status == model.StatusRunning {
			running++
		}
		if i > 0 {
			up += positive(r.UploadBytes - filtered[i-1].UploadBytes)
			down += positive(r.DownloadBytes - filtered[i-1].DownloadBytes)
		}
	}

	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	count := float64(len(filtered))

	return Summary{
		Count:           len(filtered),
		From:            time.UnixMilli(filtered[0].Timestamp).UTC(),
		To:              time.UnixMilli(filtered[len(filtered)-1].Timestamp).UTC(),
		PeakClients:     peak,
		AvgClients:      float64(sumClients) / count,
		P95Clients:      percentile(clients, 0.95),
		UploadedBytes:   up,
		DownloadedBytes: down,
		RunningPct:      float64(running) * 100 / count,
	}
}

func positive(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func percentile(values []int64, p float64) int64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
