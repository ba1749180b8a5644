package reconcile

import (
	"testing"

	"conduitdash/internal/model"
)

const (
	kib = 1024
	mib = 1024 * 1024
)

func TestReconcile_FirstCallNeverResets(t *testing.T) {
	t.Parallel()

	for _, up := range []int64{0, 10, 5 * mib} {
		raw := model.RawSnapshot{TotalBytesUp: up, TotalBytesDown: up / 2}
		res := Reconcile(raw, model.OffsetRecord{})
		if res.CumulativeUp != up || res.CumulativeDown != up/2 {
			t.Fatalf("up=%d cumulative=%d/%d", up, res.CumulativeUp, res.CumulativeDown)
		}
		if res.UploadReset || res.DownloadReset {
			t.Fatalf("unexpected reset for up=%d", up)
		}
		want := model.OffsetRecord{LastUpload: up, LastDownload: up / 2}
		if res.Offset != want {
			t.Fatalf("offset=%+v want %+v", res.Offset, want)
		}
	}
}

func TestReconcile_ResetThreshold(t *testing.T) {
	t.Parallel()

	prev := model.OffsetRecord{LastUpload: 2 * mib}

	res := Reconcile(model.RawSnapshot{TotalBytesUp: 900 * kib}, prev)
	if !res.UploadReset {
		t.Fatalf("expected reset on drop to 900 KiB")
	}
	if res.Offset.UploadOffset != 2*mib {
		t.Fatalf("upload_offset=%d", res.Offset.UploadOffset)
	}
	if res.CumulativeUp != 2*mib+900*kib {
		t.Fatalf("cumulative=%d", res.CumulativeUp)
	}

	res = Reconcile(model.RawSnapshot{TotalBytesUp: 1126 * kib}, prev)
	if res.UploadReset {
		t.Fatalf("unexpected reset on drop to 1.1 MiB")
	}
	if res.Offset.UploadOffset != 0 {
		t.Fatalf("upload_offset=%d", res.Offset.UploadOffset)
	}
}

func TestReconcile_NoFalseResetNearZero(t *testing.T) {
	t.Parallel()

	prev := model.OffsetRecord{LastUpload: 500 * kib, LastDownload: 500 * kib}
	res := Reconcile(model.RawSnapshot{TotalBytesUp: 10 * kib, TotalBytesDown: 10 * kib}, prev)
	if res.UploadReset || res.DownloadReset {
		t.Fatalf("reset below threshold")
	}
	if res.CumulativeUp != 10*kib {
		t.Fatalf("cumulative=%d", res.CumulativeUp)
	}
}

func TestReconcile_DirectionsIndependent(t *testing.T) {
	t.Parallel()

	prev := model.OffsetRecord{UploadOffset: 7, DownloadOffset: 11, LastUpload: 4 * mib, LastDownload: 4 * mib}
	res := Reconcile(model.RawSnapshot{TotalBytesUp: 4 * mib, TotalBytesDown: mib}, prev)
	if res.UploadReset {
		t.Fatalf("upload should not reset")
	}
	if !res.DownloadReset {
		t.Fatalf("download should reset")
	}
	if res.Offset.UploadOffset != 7 || res.Offset.DownloadOffset != 11+4*mib {
		t.Fatalf("offset=%+v", res.Offset)
	}
	if res.CumulativeDown != 11+4*mib+mib {
		t.Fatalf("cumulative_down=%d", res.CumulativeDown)
	}
}

func TestReconcile_MonotonicAcrossRestarts(t *testing.T) {
	t.Parallel()

	// Three service runs; each restarts counters near zero.
	runs := [][]int64{
		{0, 512 * kib, 3 * mib, 9 * mib},
		{1 * kib, 2 * mib, 6 * mib},
		{0, 100 * kib, 40 * mib},
	}

	var offset model.OffsetRecord
	var prev int64
	resets := 0
	for _, run := range runs {
		for _, v := range run {
			res := Reconcile(model.RawSnapshot{TotalBytesUp: v}, offset)
			if res.CumulativeUp < prev {
				t.Fatalf("cumulative went backward: %d -> %d (raw=%d)", prev, res.CumulativeUp, v)
			}
			if res.UploadReset {
				resets++
			}
			prev = res.CumulativeUp
			offset = res.Offset
		}
	}
	if resets != 2 {
		t.Fatalf("resets=%d", resets)
	}
	if want := int64(9*mib + 6*mib + 40*mib); prev != want {
		t.Fatalf("final=%d want %d", prev, want)
	}
}

func TestTotals(t *testing.T) {
	t.Parallel()

	up, down := Totals(model.OffsetRecord{UploadOffset: 10, DownloadOffset: 20, LastUpload: 1, LastDownload: 2})
	if up != 11 || down != 22 {
		t.Fatalf("totals=%d/%d", up, down)
	}
}

func TestIsReset_Boundaries(t *testing.T) {
	t.Parallel()

	if IsReset(0, ResetThreshold) {
		t.Fatalf("last == threshold must not reset")
	}
	if !IsReset(0, ResetThreshold+1) {
		t.Fatalf("last just above threshold should reset on zero")
	}
	if IsReset(2*mib, 4*mib) {
		t.Fatalf("exactly half must not reset")
	}
}
