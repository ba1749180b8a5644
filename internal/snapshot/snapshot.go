// Package snapshot reads the counters the Conduit service writes to its
// stats.json file.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"conduitdash/internal/bytesize"
	"conduitdash/internal/model"
)

// ErrNotFound means the service has not written its stats file yet.
var ErrNotFound = errors.New("stats file not found")

// SnapshotReader returns the service's current counters. It returns
// ErrNotFound when no snapshot exists; any other error means the snapshot
// exists but could not be read or parsed.
type SnapshotReader interface {
	Read(ctx context.Context) (model.RawSnapshot, error)
}

// FileReader reads a stats.json file from disk.
type FileReader struct {
	Path string
}

func NewFileReader(path string) *FileReader {
	return &FileReader{Path: path}
}

func (r *FileReader) Read(ctx context.Context) (model.RawSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.RawSnapshot{}, err
	}
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.RawSnapshot{}, ErrNotFound
		}
		return model.RawSnapshot{}, err
	}
	return Decode(data)
}

type statsFile struct {
	ConnectedClients any `json:"connectedClients"`
	TotalBytesUp     any `json:"totalBytesUp"`
	TotalBytesDown   any `json:"totalBytesDown"`
	StartTime        any `json:"startTime"`
}

// Decode parses stats.json content. Counters may be JSON numbers or
// human-readable quantities; missing or null counters read as zero. The
// document must be a single JSON object, and a counter that is present but
// not a byte count is an error.
func Decode(data []byte) (model.RawSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var f *statsFile
	if err := dec.Decode(&f); err != nil {
		return model.RawSnapshot{}, fmt.Errorf("decode stats: %w", err)
	}
	if f == nil {
		return model.RawSnapshot{}, errors.New("decode stats: document is null")
	}
	if _, err := dec.Token(); err != io.EOF {
		return model.RawSnapshot{}, errors.New("decode stats: trailing data after document")
	}

	clients, err := counter("connectedClients", f.ConnectedClients)
	if err != nil {
		return model.RawSnapshot{}, err
	}
	up, err := counter("totalBytesUp", f.TotalBytesUp)
	if err != nil {
		return model.RawSnapshot{}, err
	}
	down, err := counter("totalBytesDown", f.TotalBytesDown)
	if err != nil {
		return model.RawSnapshot{}, err
	}

	return model.RawSnapshot{
		ConnectedClients: clients,
		TotalBytesUp:     up,
		TotalBytesDown:   down,
		StartTime:        parseStartTime(f.StartTime),
	}, nil
}

func counter(name string, v any) (int64, error) {
	n, err := bytesize.ParseValue(v)
	if err != nil {
		return 0, fmt.Errorf("decode stats: %s: %w", name, err)
	}
	return nonNegative(n), nil
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// parseStartTime accepts RFC 3339 strings and epoch milliseconds.
func parseStartTime(v any) *time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil
		}
		return &ts
	case json.Number:
		ms, err := t.Int64()
		if err != nil || ms <= 0 {
			return nil
		}
		ts := time.UnixMilli(ms)
		return &ts
	default:
		return nil
	}
}
