// Package kernel describes the kernel buffer-sharing interface that the fimg package is
// built on top of: GEM-style buffer handles, flink names, process mappings and per-engine
// command submission queues.
//
// Every method is a synchronous kernel round trip. Failures are reported as unix.Errno
// values so callers can propagate the kernel's error code unchanged.
package kernel

// Handle is a process-local integer naming a kernel buffer object. Zero is never a valid handle.
type Handle uint32

// Name is a handle-independent integer that other processes can use to open the same kernel
// buffer object. Zero means "unnamed".
type Name uint32

// Timestamp is a per-engine completion counter assigned to each submission. Hardware completes
// submissions in order, so timestamps are observed in non-decreasing order.
type Timestamp uint32

// Identity is an opaque, comparable key describing the storage behind a descriptor. Two
// independent opens of the same device node produce equal identities.
type Identity struct {
	Dev   uint64
	Inode uint64
}

// Engine identifies one GPU execution engine that queues can be opened against
type Engine uint32

const (
	// Engine3D is the primary 3D engine
	Engine3D Engine = iota
	// Engine2D is the auxiliary 2D engine
	Engine2D
)

// BufferFlags are passed through unchanged to the kernel when a buffer is created
type BufferFlags uint32

const (
	BufferNonContiguous BufferFlags = 1 << iota
	BufferWriteBack
	BufferWriteCombine
	BufferUnmapped
)

// Device is one open connection to the GPU kernel interface
type Device interface {
	// Identity probes the storage identity of the underlying descriptor
	Identity() (Identity, error)

	// CreateBuffer allocates a fresh kernel buffer object of exactly size bytes
	CreateBuffer(size int, flags BufferFlags) (Handle, error)
	// OpenByName opens an existing shared buffer object. The kernel returns a fresh handle for
	// every call, along with the object's size.
	OpenByName(name Name) (Handle, int, error)
	// CloseHandle releases this process's handle on a buffer object
	CloseHandle(handle Handle) error
	// MintName returns the shared name of a buffer object, creating one if necessary
	MintName(handle Handle) (Name, error)
	// MapHandle maps size bytes of a buffer object into the process address space
	MapHandle(handle Handle, size int) ([]byte, error)
	// UnmapHandle releases a mapping previously returned by MapHandle
	UnmapHandle(handle Handle, mapping []byte) error

	// OpenQueue opens a submission queue for the provided engine
	OpenQueue(engine Engine) (Queue, error)

	// Close releases the descriptor
	Close() error
}

// Queue is one kernel submission queue
type Queue interface {
	// Submit hands length bytes of command words, starting at byte offset of the buffer object
	// named by handle, to the engine. The returned timestamp is valid even when an error is returned,
	// though it may be a sentinel value the kernel uses to indicate failure.
	Submit(handle Handle, offset, length int) (Timestamp, error)
	// CompletedTimestamp returns the most recent timestamp the engine has finished. Backends
	// without a completion mechanism return unix.ENOTSUP.
	CompletedTimestamp() (Timestamp, error)
	// WaitTimestamp blocks until the engine has finished the provided timestamp. Backends without
	// a blocking wait return unix.ENOTSUP.
	WaitTimestamp(timestamp Timestamp) error
	// Close releases the queue descriptor
	Close() error
}

// AddressResolver is implemented by devices that can report the GPU-visible address of a buffer object.
// Devices that don't implement it leave address assignment to the caller.
type AddressResolver interface {
	GPUAddress(handle Handle) (uint32, error)
}
