package device

import (
	"sort"
	"sync"

	"k8s.io/klog/v2"
)

// Descriptor selects one device of one backend
type Descriptor struct {
	Backend  string
	Platform int
	Index    int
	// Props is passed through to backends that accept a property string
	Props string
}

// Info describes an enumerable device
type Info struct {
	Backend    string
	Platform   int
	Index      int
	Name       string
	Type       Type
	Extensions string
}

// Driver opens devices of one backend
type Driver interface {
	Devices() ([]Info, error)
	Open(d Descriptor) (Device, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a backend available under name. Backends register from init.
func Register(name string, drv Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if drv == nil {
		panic("device: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("device: Register called twice for backend " + name)
	}
	drivers[name] = drv
}

// Backends returns the sorted names of the registered backends
func Backends() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the device named by d
func Open(d Descriptor) (Device, error) {
	driversMu.RLock()
	drv, ok := drivers[d.Backend]
	driversMu.RUnlock()
	if !ok {
		return nil, Failf(DeviceNotFound, "open", "unknown backend %q (registered: %v)", d.Backend, Backends())
	}
	dev, err := drv.Open(d)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("opened %s device %q (platform %d, index %d)", d.Backend, dev.Name(), d.Platform, d.Index)
	return dev, nil
}

// Enumerate lists the devices of every registered backend. Backends that fail
// to enumerate are skipped.
func Enumerate() []Info {
	var all []Info
	for _, name := range Backends() {
		driversMu.RLock()
		drv := drivers[name]
		driversMu.RUnlock()
		infos, err := drv.Devices()
		if err != nil {
			klog.Warningf("enumerating %s devices: %v", name, err)
			continue
		}
		all = append(all, infos...)
	}
	return all
}
