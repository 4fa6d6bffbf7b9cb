package fimg

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/openfimg/fimg/internal/utils"
	"github.com/openfimg/fimg/kernel"
	"github.com/openfimg/fimg/memutils"
	"golang.org/x/exp/slog"
)

// Device is the process-wide representative of one opened GPU device. It owns the kernel
// descriptor and the two indices that guarantee every kernel handle and every shared name on
// the device maps to at most one live BufferObject.
//
// A Device is reference counted: OpenDevice and Ref add a reference, Release removes one, and
// dropping the last reference unregisters the Device and closes its descriptor. Every live
// BufferObject holds a reference to its Device.
type Device struct {
	registry *Registry
	logger   *slog.Logger
	kernel   kernel.Device

	identity    kernel.Identity
	granularity uint
	flags       DeviceCreateFlags

	refCount atomic.Int32

	tableMutex  utils.OptionalMutex
	handleTable *swiss.Map[kernel.Handle, *BufferObject]
	nameTable   *swiss.Map[kernel.Name, *BufferObject]
}

func newDevice(registry *Registry, descriptor kernel.Device, identity kernel.Identity, granularity uint, flags DeviceCreateFlags) *Device {
	memutils.DebugCheckPow2(granularity, "granularity")

	device := &Device{
		registry:    registry,
		logger:      registry.logger,
		kernel:      descriptor,
		identity:    identity,
		granularity: granularity,
		flags:       flags,
		tableMutex: utils.OptionalMutex{
			UseMutex: flags&DeviceCreateExternallySynchronized == 0,
		},
		handleTable: swiss.NewMap[kernel.Handle, *BufferObject](16),
		nameTable:   swiss.NewMap[kernel.Name, *BufferObject](16),
	}
	device.refCount.Store(1)
	return device
}

// Kernel returns the kernel descriptor owned by this device
func (d *Device) Kernel() kernel.Device {
	return d.kernel
}

// Identity returns the storage identity this device was registered under
func (d *Device) Identity() kernel.Identity {
	return d.identity
}

// AllocationGranularity returns the size every allocation request is rounded up to
func (d *Device) AllocationGranularity() uint {
	return d.granularity
}

// RefCount returns the current number of references to this device
func (d *Device) RefCount() int {
	return int(d.refCount.Load())
}

// tryRef increments the reference count unless it has already reached zero. It is the only
// way index and registry lookups may revive an object.
func (d *Device) tryRef() bool {
	for {
		current := d.refCount.Load()
		if current <= 0 {
			return false
		}
		if d.refCount.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Ref adds a reference to the device and returns it. The caller must already hold a reference.
func (d *Device) Ref() *Device {
	if !d.tryRef() {
		panic(fmt.Sprintf("attempted to reference a released device %d:%d", d.identity.Dev, d.identity.Inode))
	}
	return d
}

// Release drops one reference. When the last reference is dropped, the device is removed from
// its registry and the kernel descriptor is closed; the error returned is the descriptor's close error.
func (d *Device) Release() error {
	remaining := d.refCount.Add(-1)
	if remaining > 0 {
		return nil
	}
	if remaining < 0 {
		panic(fmt.Sprintf("device %d:%d released more times than it was referenced", d.identity.Dev, d.identity.Inode))
	}

	d.logger.Debug("Device::Release",
		slog.Uint64("dev", d.identity.Dev),
		slog.Uint64("inode", d.identity.Inode))

	d.registry.unregister(d)

	d.tableMutex.Lock()
	liveObjects := d.handleTable.Count()
	d.handleTable.Clear()
	d.nameTable.Clear()
	d.tableMutex.Unlock()

	if liveObjects > 0 {
		// Live buffer objects hold device references, so this means a refcount was corrupted
		panic(fmt.Sprintf("device released with %d live buffer objects", liveObjects))
	}

	err := d.kernel.Close()
	if err != nil {
		d.logger.Error("failed to close device descriptor", slog.Any("error", err))
		return errors.Wrap(err, "close device descriptor")
	}
	return nil
}

// CreateBuffer allocates a new buffer object of at least size bytes. The kernel request is
// rounded up to the device's allocation granularity, but the object reports the size requested.
// The returned object carries one reference.
func (d *Device) CreateBuffer(size int, options BufferCreateOptions) (*BufferObject, error) {
	return d.createBuffer(size, options)
}

// OpenBufferByName imports the buffer object published under name, returning the existing live
// object for that name or kernel handle when there is one. The returned object carries one
// reference that belongs to the caller.
func (d *Device) OpenBufferByName(name kernel.Name) (*BufferObject, error) {
	return d.openBufferByName(name)
}

// CreatePipe opens a submission pipe of the requested kind. The pipe holds a device reference
// until it is destroyed.
func (d *Device) CreatePipe(kind PipeKind, options PipeCreateOptions) (*Pipe, error) {
	return d.createPipe(kind, options)
}

// LiveBufferCount returns the number of buffer objects currently registered in the handle index
func (d *Device) LiveBufferCount() int {
	d.tableMutex.Lock()
	defer d.tableMutex.Unlock()

	return d.handleTable.Count()
}

// Statistics retrieves aggregate statistics for every live buffer object of this device
func (d *Device) Statistics(stats *memutils.DetailedStatistics) {
	stats.Clear()

	d.tableMutex.Lock()
	defer d.tableMutex.Unlock()

	d.handleTable.Iter(func(handle kernel.Handle, bo *BufferObject) (stop bool) {
		bo.addStatistics(stats)
		return false
	})
}

// BuildStatsString returns a JSON document describing the device and, when detailed is true,
// each of its live buffer objects
func (d *Device) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	objState := writer.Object()

	d.printIdentity(objState.Name("Device"))

	var stats memutils.DetailedStatistics
	d.Statistics(&stats)
	printDetailedStatistics(objState.Name("Total"), &stats)

	if detailed {
		d.tableMutex.Lock()
		bufferArray := objState.Name("Buffers").Array()
		d.handleTable.Iter(func(handle kernel.Handle, bo *BufferObject) (stop bool) {
			o := bufferArray.Object()
			bo.printParameters(&o)
			o.End()
			return false
		})
		bufferArray.End()
		d.tableMutex.Unlock()
	}

	objState.End()
	return string(writer.Bytes())
}

func (d *Device) printIdentity(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("Dev").Float64(float64(d.identity.Dev))
	objState.Name("Inode").Float64(float64(d.identity.Inode))
	objState.Name("AllocationGranularity").Int(int(d.granularity))
	objState.Name("Flags").String(d.flags.String())
	objState.Name("RefCount").Int(d.RefCount())
}

func printDetailedStatistics(writer *jwriter.Writer, stats *memutils.DetailedStatistics) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("BufferCount").Int(stats.BufferCount)
	objState.Name("BufferBytes").Int(stats.BufferBytes)
	objState.Name("AllocatedBytes").Int(stats.AllocatedBytes)
	objState.Name("NamedCount").Int(stats.NamedCount)
	objState.Name("MappedCount").Int(stats.MappedCount)
	objState.Name("MappedBytes").Int(stats.MappedBytes)

	if stats.BufferCount > 1 {
		sizeObj := objState.Name("BufferSize").Object()
		sizeObj.Name("Min").Int(stats.BufferSizeMin)
		sizeObj.Name("Max").Int(stats.BufferSizeMax)
		sizeObj.End()
	} else if stats.BufferCount == 1 {
		objState.Name("BufferSize").Int(stats.BufferSizeMin)
	}
}
