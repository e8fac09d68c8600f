// Package occa drives OCCA devices (Serial, OpenMP, CUDA, OpenCL modes)
// through gocca. It is compiled only with the occa build tag; without it the
// package is empty and registers nothing.
//
// OCCA has no command events. Commands run in order on the device stream and
// an event completes when the device is finished, with host-side timestamps.
// OKL kernels take no local-memory arguments.
package occa
