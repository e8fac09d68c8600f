// Package profile collects per-command device timestamps and writes the
// per-run trace file.
package profile

import (
	"fmt"
	"sort"

	"github.com/notargets/devsync/device"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Phase is the pipeline step a sample was taken in
type Phase int

const (
	Write Phase = iota + 1
	Exec
	Read
)

func (p Phase) String() string {
	switch p {
	case Write:
		return "write"
	case Exec:
		return "exec"
	case Read:
		return "read"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Sample is the profile of one released event
type Sample struct {
	Phase Phase
	Name  string
	Pass  int
	device.Timestamps
}

// Label names the sample in traces: "write a", "exec[2]", "read b"
func (s Sample) Label() string {
	if s.Phase == Exec {
		return fmt.Sprintf("exec[%d]", s.Pass)
	}
	return s.Phase.String() + " " + s.Name
}

// Duration is the device execution time in nanoseconds
func (s Sample) Duration() uint64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// Capture reads the profiling counters of ev. The event must not have been
// released yet.
func Capture(ev device.Event, phase Phase, name string, pass int) (Sample, error) {
	ts, err := ev.Profile()
	if err != nil {
		return Sample{}, errors.Wrapf(err, "profile %s %s", phase, name)
	}
	return Sample{Phase: phase, Name: name, Pass: pass, Timestamps: ts}, nil
}

// Summary aggregates one label across runs, times in microseconds
type Summary struct {
	Label  string
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize aggregates execution durations by label over a run history
func Summarize(history [][]Sample) []Summary {
	durations := make(map[string][]float64)
	var labels []string
	for _, run := range history {
		for _, s := range run {
			l := s.Label()
			if _, ok := durations[l]; !ok {
				labels = append(labels, l)
			}
			durations[l] = append(durations[l], float64(s.Duration())/1000)
		}
	}
	sort.Strings(labels)
	out := make([]Summary, 0, len(labels))
	for _, l := range labels {
		d := durations[l]
		sum := Summary{Label: l, Count: len(d), Min: d[0], Max: d[0]}
		if len(d) > 1 {
			sum.Mean, sum.StdDev = stat.MeanStdDev(d, nil)
		} else {
			sum.Mean = d[0]
		}
		for _, v := range d {
			sum.Min = min(sum.Min, v)
			sum.Max = max(sum.Max, v)
		}
		out = append(out, sum)
	}
	return out
}
