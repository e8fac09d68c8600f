package utils

import (
	"github.com/notargets/devsync/device"
	"github.com/notargets/devsync/device/hostsim"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CreateTestDevice creates an in-process device holding the builtin kernels
func CreateTestDevice(opts ...hostsim.Option) *hostsim.Device {
	return hostsim.New(opts...)
}

// OpenDevice opens the first candidate that works, preferring earlier ones.
// With no candidates it tries every registered backend, hostsim last.
func OpenDevice(candidates ...device.Descriptor) (device.Device, error) {
	if len(candidates) == 0 {
		for _, name := range device.Backends() {
			if name != "hostsim" {
				candidates = append(candidates, device.Descriptor{Backend: name})
			}
		}
		candidates = append(candidates, device.Descriptor{Backend: "hostsim"})
	}

	var lastErr error
	for _, d := range candidates {
		dev, err := device.Open(d)
		if err == nil {
			klog.V(1).Infof("created %s device %q", d.Backend, dev.Name())
			return dev, nil
		}
		klog.V(1).Infof("backend %s unavailable: %v", d.Backend, err)
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "failed to create any device")
}
