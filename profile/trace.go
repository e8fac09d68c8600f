package profile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Header is the first line of every trace
const Header = "# PROFILE Name, queued, submit, start, end (microseconds)"

var traceSeq atomic.Int64

// TraceName returns a fresh trace file name: devsyncprof.HHMMSS.pid.seq
func TraceName(now time.Time) string {
	return fmt.Sprintf("devsyncprof.%s.%d.%d", now.Format("150405"), os.Getpid(), traceSeq.Add(1))
}

// Trace writes one line per run
type Trace struct {
	w      io.Writer
	closer io.Closer
	Path   string
	header bool
}

// NewTrace writes to w
func NewTrace(w io.Writer) *Trace {
	return &Trace{w: w}
}

// OpenTrace creates a trace file in dir. If the file cannot be created the
// trace goes to stderr.
func OpenTrace(dir string) *Trace {
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, TraceName(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		klog.Warningf("profile trace %s: %v; writing to stderr", path, err)
		return &Trace{w: os.Stderr}
	}
	klog.V(1).Infof("profile trace %s", path)
	return &Trace{w: f, closer: f, Path: path}
}

// WriteRun appends the samples of one run. Timestamps are microseconds
// relative to the earliest queued time of the run. The header is written
// before the first run.
func (t *Trace) WriteRun(samples []Sample) error {
	if t == nil || t.w == nil {
		return nil
	}
	var b strings.Builder
	if !t.header {
		b.WriteString(Header)
		b.WriteByte('\n')
		t.header = true
	}
	var base uint64
	for i, s := range samples {
		if i == 0 || s.Queued < base {
			base = s.Queued
		}
	}
	rel := func(ts uint64) uint64 {
		if ts < base {
			return 0
		}
		return (ts - base) / 1000
	}
	for i, s := range samples {
		fmt.Fprintf(&b, "%d %s,%d,%d,%d,%d,", i+1, s.Label(), rel(s.Queued), rel(s.Submit), rel(s.Start), rel(s.End))
	}
	b.WriteByte('\n')
	_, err := io.WriteString(t.w, b.String())
	return errors.Wrap(err, "write profile trace")
}

// Close closes the trace file, if one was opened
func (t *Trace) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	err := t.closer.Close()
	t.closer = nil
	return errors.Wrap(err, "close profile trace")
}
