// Package eventlog is the append-only raw webhook log. Every inbound event is
// recorded as one JSON line in numbered segment files (events-000001.log,
// events-000002.log, …) that rotate after a fixed number of records.
//
// The log has exactly two consumers: operators reading segments off the disk,
// and the confirmation path, which scans the most recent segments for
// evidence that an expected outbound reply was actually observed. Segment
// boundaries are therefore part of the contract: ScanRecent(n) reads the last
// n segments, no more.
//
// Records are never rewritten. Malformed lines (e.g. from a crash mid-append)
// are skipped on read.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// segment file naming; the numeric part keeps lexical order == append order.
const (
	segmentPrefix = "events-"
	segmentExt    = ".log"
)

// maxTextBytes caps the stored message text so one oversized webhook cannot
// bloat a segment.
const maxTextBytes = 4096

// Record is one logged inbound event.
type Record struct {
	TS        time.Time `json:"ts"`
	Account   string    `json:"account"`
	ChatID    string    `json:"chat_id,omitempty"`
	AuthorID  string    `json:"author_id,omitempty"`
	Type      string    `json:"type,omitempty"`
	Text      string    `json:"text,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	ItemID    string    `json:"item_id,omitempty"`
}

// Log appends records to rotating segment files. Safe for concurrent use
// within one process; the single server process is the only writer.
type Log struct {
	dir         string
	segmentSize int
	maxSegments int

	mu       sync.Mutex
	cur      *os.File
	curIndex int
	curCount int
}

// Open ensures dir exists, locates the newest segment (continuing it if it
// has room), and returns a ready Log.
func Open(dir string, segmentSize, maxSegments int) (*Log, error) {
	if segmentSize < 1 {
		segmentSize = 1
	}
	if maxSegments < 1 {
		maxSegments = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}

	l := &Log{dir: dir, segmentSize: segmentSize, maxSegments: maxSegments}

	names, err := l.segmentNames()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		l.curIndex = 1
	} else {
		last := names[len(names)-1]
		l.curIndex = segmentIndex(last)
		n, err := countLines(filepath.Join(dir, last))
		if err != nil {
			return nil, fmt.Errorf("eventlog: %w", err)
		}
		l.curCount = n
		if l.curCount >= l.segmentSize {
			l.curIndex++
			l.curCount = 0
		}
	}

	f, err := os.OpenFile(l.segmentPath(l.curIndex), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}
	l.cur = f
	return l, nil
}

// Append writes one record as a JSON line, rotating the segment when full
// and pruning segments beyond the retention count.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	if len(rec.Text) > maxTextBytes {
		rec.Text = rec.Text[:maxTextBytes]
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.curCount >= l.segmentSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	if _, err := l.cur.Write(line); err != nil {
		return fmt.Errorf("eventlog append: %w", err)
	}
	l.curCount++
	return nil
}

// ScanRecent returns all records from the last n segments, oldest first
// within the window. Malformed lines are skipped.
func (l *Log) ScanRecent(ctx context.Context, n int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 1 {
		n = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	names, err := l.segmentNames()
	if err != nil {
		return nil, err
	}
	if len(names) > n {
		names = names[len(names)-n:]
	}

	var out []Record
	for _, name := range names {
		f, err := os.Open(filepath.Join(l.dir, name))
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for sc.Scan() {
			var rec Record
			if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
				continue
			}
			out = append(out, rec)
		}
		f.Close()
	}
	return out, nil
}

// Close flushes and closes the active segment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		return nil
	}
	err := l.cur.Close()
	l.cur = nil
	return err
}

// rotateLocked opens the next segment and prunes old ones. Caller holds mu.
func (l *Log) rotateLocked() error {
	if err := l.cur.Close(); err != nil {
		return fmt.Errorf("eventlog rotate: %w", err)
	}
	l.curIndex++
	l.curCount = 0
	f, err := os.OpenFile(l.segmentPath(l.curIndex), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog rotate: %w", err)
	}
	l.cur = f

	names, err := l.segmentNames()
	if err != nil {
		return nil
	}
	for len(names) > l.maxSegments {
		os.Remove(filepath.Join(l.dir, names[0]))
		names = names[1:]
	}
	return nil
}

// segmentNames lists segment files in append order.
func (l *Log) segmentNames() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentExt) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (l *Log) segmentPath(index int) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s%06d%s", segmentPrefix, index, segmentExt))
}

// segmentIndex extracts the numeric part of a segment name; 1 on parse issues.
func segmentIndex(name string) int {
	numeric := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentExt)
	idx := 0
	for _, r := range numeric {
		if r < '0' || r > '9' {
			return 1
		}
		idx = idx*10 + int(r-'0')
	}
	if idx < 1 {
		return 1
	}
	return idx
}

// countLines counts newline-terminated records in a segment.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	n := 0
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
