package fimg

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/openfimg/fimg/internal/utils"
	"github.com/openfimg/fimg/kernel"
	"github.com/openfimg/fimg/memutils"
	"golang.org/x/exp/slog"
)

// BufferObject is the single process-local representative of one kernel buffer object on a
// Device. Every holder (the caller, and each pipe queue it is linked into) owns one reference;
// the kernel handle is closed when the last reference is released.
type BufferObject struct {
	device *Device
	logger *slog.Logger

	handle        kernel.Handle
	name          kernel.Name
	size          int
	allocatedSize int
	flags         BufferCreateFlags

	refCount atomic.Int32

	mapMutex utils.OptionalRWMutex
	mapping  []byte

	gpuAddress atomic.Uint32

	timestamps       [pipeKindCount]atomic.Uint32
	scanoutTimestamp atomic.Uint32
}

// Device returns the device this buffer object was created against
func (bo *BufferObject) Device() *Device {
	return bo.device
}

// Handle returns the kernel handle of this buffer object
func (bo *BufferObject) Handle() kernel.Handle {
	return bo.handle
}

// Size returns the size the buffer object was requested with, which may be less than the size
// that was allocated from the kernel
func (bo *BufferObject) Size() int {
	return bo.size
}

// AllocatedSize returns the size that was requested from the kernel
func (bo *BufferObject) AllocatedSize() int {
	return bo.allocatedSize
}

func (bo *BufferObject) Flags() BufferCreateFlags {
	return bo.flags
}

func (bo *BufferObject) RefCount() int {
	return int(bo.refCount.Load())
}

func (bo *BufferObject) tryRef() bool {
	for {
		current := bo.refCount.Load()
		if current <= 0 {
			return false
		}
		if bo.refCount.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Ref adds a reference to the buffer object and returns it. The caller must already hold a reference.
func (bo *BufferObject) Ref() *BufferObject {
	if !bo.tryRef() {
		panic(fmt.Sprintf("attempted to reference released buffer object %d", bo.handle))
	}
	return bo
}

// Release drops one reference. Dropping the last reference unmaps the buffer object, removes
// it from the device indices, closes its kernel handle and releases the device reference it held.
// Every step is attempted; the errors of all failed steps are combined.
func (bo *BufferObject) Release() error {
	remaining := bo.refCount.Add(-1)
	if remaining > 0 {
		return nil
	}
	if remaining < 0 {
		panic(fmt.Sprintf("buffer object %d released more times than it was referenced", bo.handle))
	}

	bo.logger.Debug("BufferObject::Release",
		slog.Int("handle", int(bo.handle)),
		slog.Int("name", int(bo.name)))

	var err error
	device := bo.device

	bo.mapMutex.Lock()
	if bo.mapping != nil {
		unmapErr := device.kernel.UnmapHandle(bo.handle, bo.mapping)
		if unmapErr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(unmapErr, "unmap buffer object %d", bo.handle))
		}
		bo.mapping = nil
	}
	bo.mapMutex.Unlock()

	device.tableMutex.Lock()
	current, ok := device.handleTable.Get(bo.handle)
	if ok && current == bo {
		device.handleTable.Delete(bo.handle)
	}
	if bo.name != 0 {
		current, ok = device.nameTable.Get(bo.name)
		if ok && current == bo {
			device.nameTable.Delete(bo.name)
		}
	}
	closeErr := device.kernel.CloseHandle(bo.handle)
	device.tableMutex.Unlock()

	if closeErr != nil {
		err = errors.CombineErrors(err, errors.Wrapf(closeErr, "close buffer object %d", bo.handle))
	}

	err = errors.CombineErrors(err, device.Release())
	if err != nil {
		bo.logger.Error("failed to release buffer object", slog.Any("error", err))
	}
	return err
}

// Name returns the shared name of the buffer object, asking the kernel to mint one on first
// use. Naming is idempotent: concurrent callers all receive the same name.
func (bo *BufferObject) Name() (kernel.Name, error) {
	device := bo.device
	device.tableMutex.Lock()
	defer device.tableMutex.Unlock()

	if bo.name != 0 {
		return bo.name, nil
	}

	name, err := device.kernel.MintName(bo.handle)
	if err != nil {
		bo.logger.Error("failed to mint buffer object name",
			slog.Int("handle", int(bo.handle)),
			slog.Any("error", err))
		return 0, kernelError(err, ErrAllocation, "mint name for buffer object %d", bo.handle)
	}

	bo.name = name
	device.nameTable.Put(name, bo)

	return name, nil
}

// Map returns the process mapping of the buffer object, establishing it on first use. The
// mapping stays valid until the last reference is released.
func (bo *BufferObject) Map() ([]byte, error) {
	bo.mapMutex.RLock()
	mapping := bo.mapping
	bo.mapMutex.RUnlock()

	if mapping != nil {
		return mapping, nil
	}

	bo.mapMutex.Lock()
	defer bo.mapMutex.Unlock()

	if bo.mapping != nil {
		return bo.mapping, nil
	}

	mapping, err := bo.device.kernel.MapHandle(bo.handle, bo.size)
	if err != nil {
		bo.logger.Error("failed to map buffer object",
			slog.Int("handle", int(bo.handle)),
			slog.Any("error", err))
		return nil, kernelError(err, ErrMapping, "map buffer object %d", bo.handle)
	}

	bo.mapping = mapping
	return mapping, nil
}

// IsMapped reports whether Map has established a mapping
func (bo *BufferObject) IsMapped() bool {
	bo.mapMutex.RLock()
	defer bo.mapMutex.RUnlock()

	return bo.mapping != nil
}

// GPUAddress returns the GPU-visible address of the byte at offset within this buffer object,
// or 0 if the buffer object has no GPU address. Devices implementing kernel.AddressResolver are
// asked for the address on first use. A negative offset panics.
func (bo *BufferObject) GPUAddress(offset int) uint32 {
	if offset < 0 {
		panic(fmt.Sprintf("negative offset %d into buffer object %d", offset, bo.handle))
	}

	address := bo.gpuAddress.Load()
	if address == 0 {
		address = bo.resolveGPUAddress()
		if address == 0 {
			return 0
		}
	}

	return address + uint32(offset)
}

func (bo *BufferObject) resolveGPUAddress() uint32 {
	resolver, ok := bo.device.kernel.(kernel.AddressResolver)
	if !ok {
		return 0
	}

	address, err := resolver.GPUAddress(bo.handle)
	if err != nil {
		bo.logger.Error("failed to resolve buffer object GPU address",
			slog.Int("handle", int(bo.handle)),
			slog.Any("error", err))
		return 0
	}

	bo.gpuAddress.CompareAndSwap(0, address)
	return bo.gpuAddress.Load()
}

// SetGPUAddress records the GPU-visible address of the start of this buffer object, for
// backends that leave address assignment to userspace
func (bo *BufferObject) SetGPUAddress(address uint32) {
	bo.gpuAddress.Store(address)
}

// Timestamp returns the most recent completion timestamp this buffer object was submitted on to
// the engine behind pipes of the provided kind, or 0 once no pipe of that kind still holds it
// pending. Retirement order within a pipe is tracked by the pipe itself.
func (bo *BufferObject) Timestamp(kind PipeKind) kernel.Timestamp {
	return kernel.Timestamp(bo.timestamps[kind].Load())
}

// ScanoutTimestamp returns the timestamp of the most recent primary pipe submission that
// referenced this buffer object. Display consumers wait on it before scanning the buffer out.
func (bo *BufferObject) ScanoutTimestamp() kernel.Timestamp {
	return kernel.Timestamp(bo.scanoutTimestamp.Load())
}

func (bo *BufferObject) setTimestamp(kind PipeKind, timestamp kernel.Timestamp) {
	bo.timestamps[kind].Store(uint32(timestamp))
}

// clearTimestamp forgets timestamp unless a later submission on the same engine replaced it
func (bo *BufferObject) clearTimestamp(kind PipeKind, timestamp kernel.Timestamp) {
	bo.timestamps[kind].CompareAndSwap(uint32(timestamp), 0)
}

// addStatistics is called with the device table lock held
func (bo *BufferObject) addStatistics(stats *memutils.DetailedStatistics) {
	bo.mapMutex.RLock()
	mappedSize := len(bo.mapping)
	bo.mapMutex.RUnlock()

	stats.AddBuffer(bo.size, bo.allocatedSize, bo.name != 0, mappedSize)
}

func (bo *BufferObject) printParameters(json *jwriter.ObjectState) {
	json.Name("Handle").Int(int(bo.handle))
	json.Name("Size").Int(bo.size)
	json.Name("AllocatedSize").Int(bo.allocatedSize)
	json.Name("Flags").String(bo.flags.String())
	json.Name("RefCount").Int(bo.RefCount())

	if bo.name != 0 {
		json.Name("Name").Int(int(bo.name))
	}

	if bo.IsMapped() {
		json.Name("Mapped").Bool(true)
	}

	if address := bo.gpuAddress.Load(); address != 0 {
		json.Name("GPUAddress").String(fmt.Sprintf("0x%08x", address))
	}

	for kind := PipeKind(0); kind < pipeKindCount; kind++ {
		if timestamp := bo.Timestamp(kind); timestamp != 0 {
			json.Name(kind.String() + "Timestamp").Float64(float64(timestamp))
		}
	}
}
