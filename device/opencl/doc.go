// Package opencl drives OpenCL devices through github.com/jgillich/go-opencl.
// It is compiled only with the opencl build tag and needs the OpenCL ICD
// loader at link time; without the tag the package is empty.
package opencl
