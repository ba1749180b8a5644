package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"conduitdash/internal/model"
)

var header = []string{
	"timestamp",
	"status",
	"clients",
	"upload_bytes",
	"download_bytes",
	"uptime",
}

// WriteCSV writes history rows to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.StatsRecord) error {
	return writeCSV(w, items, true)
}

// AppendCSV appends rows to the file at path, writing the header only when
// the file is new or empty.
func AppendCSV(path string, items []model.StatsRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	if err := writeCSV(file, items, info.Size() == 0); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func writeCSV(w io.Writer, items []model.StatsRecord, withHeader bool) error {
	writer := csv.NewWriter(w)

	if withHeader {
		if err := writer.Write(header); err != nil {
			return err
		}
	}

	for _, r := range items {
		record := []string{
			strconv.FormatInt(r.Timestamp, 10),
			string(r.Status),
			strconv.FormatInt(r.Clients, 10),
			strconv.FormatInt(r.UploadBytes, 10),
			strconv.FormatInt(r.DownloadBytes, 10),
			r.Uptime,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
