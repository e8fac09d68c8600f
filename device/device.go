// Package device defines the command-queue/event contract that the sync
// pipeline drives, and the registry of backends implementing it.
package device

import "unsafe"

// Device is one compute device reached through a backend
type Device interface {
	Name() string
	Type() Type
	Extensions() string
	NewContext() (Context, error)
	Release() error
}

// Context owns allocations and compiled kernels for one device
type Context interface {
	// Alloc creates device memory. With MemUseHostPtr the host region backs
	// the allocation and its contents seed the device copy.
	Alloc(flags MemFlags, size int, host unsafe.Pointer) (Memory, error)
	Build(source, entry string) (Kernel, error)
	NewQueue(profiling bool) (Queue, error)
	Release() error
}

// Queue is an in-order command queue. Enqueue calls do not block; the
// returned event completes when the command has finished.
type Queue interface {
	EnqueueWrite(m Memory, host unsafe.Pointer, size int, wait []Event) (Event, error)
	EnqueueRead(m Memory, host unsafe.Pointer, size int, wait []Event) (Event, error)
	EnqueueKernel(k Kernel, r Range, wait []Event) (Event, error)
	EnqueueMarker() (Event, error)
	WaitForEvents(events []Event) error
	Finish() error
	Release() error
}

// Kernel is a compiled entry point with positional arguments
type Kernel interface {
	SetArgMemory(pos int, m Memory) error
	SetArgLocal(pos int, size int) error
	SetArgScalar(pos int, value interface{}) error
	// WorkGroupSize is the largest work-group the kernel can launch with
	WorkGroupSize() (int, error)
	Release() error
}

// Memory is a device allocation
type Memory interface {
	Size() int
	Release() error
}

// Event tracks completion of one enqueued command
type Event interface {
	Wait() error
	Status() (ExecStatus, error)
	Profile() (Timestamps, error)
	Release() error
}
