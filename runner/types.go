package runner

import (
	"fmt"
	"reflect"

	"github.com/notargets/devsync/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// State is the pipeline step an invocation is in
type State int

const (
	Idle State = iota
	Writing
	Launching
	Reading
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Writing:
		return "writing"
	case Launching:
		return "launching"
	case Reading:
		return "reading"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Resources counts the device objects a runner created and released
type Resources struct {
	Buffers        int // registered
	LiveMemory     int // buffers holding device memory
	LiveBytes      int
	Allocations    int
	MemoryReleases int // by FreeMemory
	Reclaimed      int // buffers removed from the registry
	Events         int
	LiveEvents     int
}

// Resources reports the current counters
func (r *Runner) Resources() Resources {
	res := r.res
	res.Buffers = r.registry.Len()
	for _, b := range r.registry.Buffers() {
		if b.Mem != nil {
			res.LiveMemory++
			res.LiveBytes += b.Mem.Size()
		}
	}
	return res
}

func (r *Runner) trackEvent(what string) {
	r.res.Events++
	r.res.LiveEvents++
	if r.opts.TrackResources {
		klog.Infof("event %s, %d live", what, r.res.LiveEvents)
	}
}

// releaseEvent releases ev and clears the slot holding it
func (r *Runner) releaseEvent(slot *device.Event, what string) error {
	if *slot == nil {
		return nil
	}
	ev := *slot
	*slot = nil
	r.res.LiveEvents--
	if r.opts.TrackResources {
		klog.Infof("release event %s, %d live", what, r.res.LiveEvents)
	}
	return errors.Wrapf(ev.Release(), "release %s event", what)
}

// scalarValue converts a host scalar to the sized value bound on the
// device. Go int and uint are 64 bit, bool is one byte. Pointers are
// followed.
func scalarValue(v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, errors.Errorf("nil %v", rv.Type())
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Float32:
		return float32(rv.Float()), nil
	case reflect.Float64:
		return rv.Float(), nil
	case reflect.Int8:
		return int8(rv.Int()), nil
	case reflect.Int16:
		return int16(rv.Int()), nil
	case reflect.Int32:
		return int32(rv.Int()), nil
	case reflect.Int64, reflect.Int:
		return rv.Int(), nil
	case reflect.Uint8:
		return uint8(rv.Uint()), nil
	case reflect.Uint16:
		return uint16(rv.Uint()), nil
	case reflect.Uint32:
		return uint32(rv.Uint()), nil
	case reflect.Uint64, reflect.Uint:
		return rv.Uint(), nil
	case reflect.Bool:
		if rv.Bool() {
			return uint8(1), nil
		}
		return uint8(0), nil
	default:
		return nil, errors.Errorf("unsupported scalar type %v", rv.Type())
	}
}
