package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"conduitdash/internal/model"
)

// ReadCSV loads history rows from a CSV file written by WriteCSV.
func ReadCSV(path string) ([]model.StatsRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.StatsRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]model.StatsRecord, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		clients, _ := strconv.ParseInt(rec[2], 10, 64)
		up, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid upload_bytes at line %d: %w", i+1, err)
		}
		down, err := strconv.ParseInt(rec[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid download_bytes at line %d: %w", i+1, err)
		}
		items = append(items, model.StatsRecord{
			Timestamp:     ts,
			Status:        model.Status(rec[1]),
			Clients:       clients,
			UploadBytes:   up,
			DownloadBytes: down,
			Uptime:        rec[5],
		})
	}

	return items, nil
}
