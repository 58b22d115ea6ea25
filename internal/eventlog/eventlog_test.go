package eventlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func openLog(t *testing.T, dir string, segSize, maxSegs int) *Log {
	t.Helper()
	l, err := Open(dir, segSize, maxSegs)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendScan_RoundTrip(t *testing.T) {
	l := openLog(t, t.TempDir(), 100, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := l.Append(ctx, Record{
			Account: "acc",
			ChatID:  fmt.Sprintf("chat%d", i),
			Type:    "text",
			Text:    "hello",
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs, err := l.ScanRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ScanRecent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].ChatID != "chat0" || recs[2].ChatID != "chat2" {
		t.Fatalf("order not append order: %+v", recs)
	}
	if recs[0].TS.IsZero() {
		t.Fatalf("timestamp not defaulted")
	}
}

func TestRotation_AndScanWindow(t *testing.T) {
	dir := t.TempDir()
	l := openLog(t, dir, 2, 10)
	ctx := context.Background()

	// 5 records with segment size 2 → segments of 2+2+1.
	for i := 0; i < 5; i++ {
		if err := l.Append(ctx, Record{Account: "acc", ChatID: fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	names, err := l.segmentNames()
	if err != nil {
		t.Fatalf("segmentNames: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("got segments %v, want 3", names)
	}

	// Last 2 segments hold records c2..c4 only.
	recs, err := l.ScanRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ScanRecent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("window holds %d records, want 3", len(recs))
	}
	if recs[0].ChatID != "c2" {
		t.Fatalf("window starts at %s, want c2", recs[0].ChatID)
	}
}

func TestRetention_PrunesOldSegments(t *testing.T) {
	dir := t.TempDir()
	l := openLog(t, dir, 1, 2)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := l.Append(ctx, Record{Account: "acc", ChatID: fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	names, err := l.segmentNames()
	if err != nil {
		t.Fatalf("segmentNames: %v", err)
	}
	if len(names) > 3 { // retention + the freshly opened segment
		t.Fatalf("retention not applied: %v", names)
	}
}

func TestOpen_ContinuesExistingSegment(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l := openLog(t, dir, 10, 5)
	if err := l.Append(ctx, Record{Account: "acc", ChatID: "c1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: the existing record must still be visible and the segment reused.
	l2 := openLog(t, dir, 10, 5)
	if err := l2.Append(ctx, Record{Account: "acc", ChatID: "c2"}); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	recs, err := l2.ScanRecent(ctx, 1)
	if err != nil {
		t.Fatalf("ScanRecent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records after reopen, want 2", len(recs))
	}
}

func TestScan_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	l := openLog(t, dir, 10, 5)
	ctx := context.Background()

	if err := l.Append(ctx, Record{Account: "acc", ChatID: "good"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Simulate a torn write in the active segment.
	seg := filepath.Join(dir, "events-000001.log")
	f, err := os.OpenFile(seg, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	if _, err := f.WriteString("{\"ts\":\"torn"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	recs, err := l.ScanRecent(ctx, 1)
	if err != nil {
		t.Fatalf("ScanRecent: %v", err)
	}
	if len(recs) != 1 || recs[0].ChatID != "good" {
		t.Fatalf("malformed line not skipped: %+v", recs)
	}
}

func TestAppend_TruncatesOversizedText(t *testing.T) {
	l := openLog(t, t.TempDir(), 10, 5)
	ctx := context.Background()

	big := make([]byte, maxTextBytes*2)
	for i := range big {
		big[i] = 'a'
	}
	if err := l.Append(ctx, Record{Account: "acc", ChatID: "c", Text: string(big)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	recs, err := l.ScanRecent(ctx, 1)
	if err != nil {
		t.Fatalf("ScanRecent: %v", err)
	}
	if len(recs) != 1 || len(recs[0].Text) != maxTextBytes {
		t.Fatalf("text not capped: %d bytes", len(recs[0].Text))
	}
}
