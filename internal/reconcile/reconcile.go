// Package reconcile turns per-run service counters into lifetime totals.
//
// The service zeroes its byte counters on every restart. A counter that falls
// below half of the previous reading, where that previous reading was above
// ResetThreshold, is taken as a restart: the previous reading is folded into
// the persistent offset so the reported total never moves backward. A real
// traffic drop of that size cannot be told apart from a restart.
package reconcile

import "conduitdash/internal/model"

// ResetThreshold is the smallest previous reading that can signal a restart.
const ResetThreshold int64 = 1024 * 1024

// Result is the outcome of one reconciliation.
type Result struct {
	CumulativeUp   int64
	CumulativeDown int64
	Offset         model.OffsetRecord
	UploadReset    bool
	DownloadReset  bool
}

// IsReset reports whether current, read after last, indicates a restart.
func IsReset(current, last int64) bool {
	return last > ResetThreshold && float64(current) < float64(last)*0.5
}

// Reconcile folds raw into offset. It has no side effects; the caller
// persists Result.Offset.
func Reconcile(raw model.RawSnapshot, offset model.OffsetRecord) Result {
	upOffset, upReset := fold(raw.TotalBytesUp, offset.UploadOffset, offset.LastUpload)
	downOffset, downReset := fold(raw.TotalBytesDown, offset.DownloadOffset, offset.LastDownload)

	return Result{
		CumulativeUp:   upOffset + raw.TotalBytesUp,
		CumulativeDown: downOffset + raw.TotalBytesDown,
		Offset: model.OffsetRecord{
			UploadOffset:   upOffset,
			DownloadOffset: downOffset,
			LastUpload:     raw.TotalBytesUp,
			LastDownload:   raw.TotalBytesDown,
		},
		UploadReset:   upReset,
		DownloadReset: downReset,
	}
}

func fold(current, offset, last int64) (int64, bool) {
	if IsReset(current, last) {
		return offset + last, true
	}
	return offset, false
}

// Totals returns the cumulative counters implied by a stored offset record
// without a new reading: the offset plus the last raw values seen.
func Totals(offset model.OffsetRecord) (up, down int64) {
	return offset.UploadOffset + offset.LastUpload, offset.DownloadOffset + offset.LastDownload
}
