package model

import "time"

// Status is the observed state of the Conduit service at one tick.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
)

// ProcessState is a single liveness probe result. It is never persisted.
type ProcessState struct {
	Running    bool
	PID        int
	CPUPercent float64
	MemPercent float64
	Args       string // full command line of the matched process
}

// RawSnapshot holds the counters the service reports about its current run.
type RawSnapshot struct {
	ConnectedClients int64
	TotalBytesUp     int64
	TotalBytesDown   int64
	StartTime        *time.Time
}

// OffsetRecord carries totals from previous service runs plus the last raw
// counters seen, which feed restart detection on the next tick.
type OffsetRecord struct {
	UploadOffset   int64 `json:"upload_offset"`
	DownloadOffset int64 `json:"download_offset"`
	LastUpload     int64 `json:"last_upload"`
	LastDownload   int64 `json:"last_download"`
}

// StatsRecord is one row of the reconciled time series.
type StatsRecord struct {
	Timestamp     int64 // epoch ms
	Status        Status
	Clients       int64
	UploadBytes   int64 // cumulative
	DownloadBytes int64 // cumulative
	Uptime        string
}

// DisplayStats is the per-server card rendered by the dashboard UI.
type DisplayStats struct {
	Name       string  `json:"name"`
	Host       string  `json:"host"`
	Status     Status  `json:"status"`
	Clients    int64   `json:"clients"`
	Upload     string  `json:"upload"`
	Download   string  `json:"download"`
	Uptime     string  `json:"uptime"`
	Error      *string `json:"error"`
	MaxClients *int    `json:"maxClients"`
	Bandwidth  *int    `json:"bandwidth"`
}

// HistoryPoint is a StatsRecord as served to history clients.
type HistoryPoint struct {
	Timestamp     int64  `json:"timestamp"`
	Status        Status `json:"status"`
	Clients       int64  `json:"clients"`
	UploadBytes   int64  `json:"upload_bytes"`
	DownloadBytes int64  `json:"download_bytes"`
	Uptime        string `json:"uptime"`
	Server        string `json:"server"`
}
