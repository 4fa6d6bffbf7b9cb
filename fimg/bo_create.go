package fimg

import (
	"github.com/cockroachdb/errors"
	"github.com/openfimg/fimg/internal/utils"
	"github.com/openfimg/fimg/kernel"
	"github.com/openfimg/fimg/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// BufferCreateFlags select the kind of memory the kernel backs a new buffer object with. They
// are passed to the kernel unchanged.
type BufferCreateFlags int32

var bufferCreateFlagsMapping = utils.NewFlagStringMapping[BufferCreateFlags]()

func (f BufferCreateFlags) Register(str string) {
	bufferCreateFlagsMapping.Register(f, str)
}
func (f BufferCreateFlags) String() string {
	return bufferCreateFlagsMapping.FlagsToString(f)
}

const (
	// BufferCreateNonContiguous allows the kernel to back the buffer object with scattered pages
	BufferCreateNonContiguous = BufferCreateFlags(kernel.BufferNonContiguous)
	// BufferCreateWriteBack requests cacheable memory
	BufferCreateWriteBack = BufferCreateFlags(kernel.BufferWriteBack)
	// BufferCreateWriteCombine requests write-combined memory, which suits command streams
	BufferCreateWriteCombine = BufferCreateFlags(kernel.BufferWriteCombine)
	// BufferCreateUnmapped indicates the buffer object will never be mapped into the process
	BufferCreateUnmapped = BufferCreateFlags(kernel.BufferUnmapped)
)

func init() {
	BufferCreateNonContiguous.Register("BufferCreateNonContiguous")
	BufferCreateWriteBack.Register("BufferCreateWriteBack")
	BufferCreateWriteCombine.Register("BufferCreateWriteCombine")
	BufferCreateUnmapped.Register("BufferCreateUnmapped")
}

// BufferCreateOptions contains optional settings when creating a buffer object
type BufferCreateOptions struct {
	Flags BufferCreateFlags
}

func (d *Device) createBuffer(size int, options BufferCreateOptions) (*BufferObject, error) {
	d.logger.Debug("Device::CreateBuffer",
		slog.Int("size", size),
		slog.String("flags", options.Flags.String()))

	if size <= 0 {
		return nil, kernelError(unix.EINVAL, ErrAllocation, "create buffer of %d bytes", size)
	}

	allocatedSize := memutils.AlignUp(size, d.granularity)
	handle, err := d.kernel.CreateBuffer(allocatedSize, kernel.BufferFlags(options.Flags))
	if err != nil {
		d.logger.Error("failed to create buffer object",
			slog.Int("size", allocatedSize),
			slog.Any("error", err))
		return nil, kernelError(err, ErrAllocation, "create buffer of %d bytes", allocatedSize)
	}

	d.tableMutex.Lock()
	defer d.tableMutex.Unlock()

	return d.registerBuffer(handle, size, allocatedSize, options.Flags)
}

func (d *Device) openBufferByName(name kernel.Name) (*BufferObject, error) {
	d.logger.Debug("Device::OpenBufferByName", slog.Int("name", int(name)))

	if name == 0 {
		return nil, kernelError(unix.ENOENT, ErrNotFound, "open buffer name 0")
	}

	d.tableMutex.Lock()
	defer d.tableMutex.Unlock()

	bo, ok := d.nameTable.Get(name)
	if ok && bo.tryRef() {
		return bo, nil
	}

	handle, size, err := d.kernel.OpenByName(name)
	if err != nil {
		d.logger.Error("failed to open buffer object by name",
			slog.Int("name", int(name)),
			slog.Any("error", err))
		return nil, kernelError(err, ErrNotFound, "open buffer name %d", name)
	}

	// The kernel can hand back a handle this process already wraps
	bo, ok = d.handleTable.Get(handle)
	if ok && bo.tryRef() {
		if bo.name == 0 {
			bo.name = name
			d.nameTable.Put(name, bo)
		}
		return bo, nil
	}

	bo, err = d.registerBuffer(handle, size, size, 0)
	if err != nil {
		return nil, err
	}

	bo.name = name
	d.nameTable.Put(name, bo)
	return bo, nil
}

// registerBuffer wraps a freshly acquired kernel handle and records it in the handle index.
// tableMutex must be held. The handle is closed if it cannot be wrapped.
func (d *Device) registerBuffer(handle kernel.Handle, size, allocatedSize int, flags BufferCreateFlags) (*BufferObject, error) {
	if !d.tryRef() {
		closeErr := d.kernel.CloseHandle(handle)
		return nil, errors.CombineErrors(
			errors.Newf("device %d:%d was released while registering handle %d", d.identity.Dev, d.identity.Inode, handle),
			closeErr,
		)
	}

	bo := &BufferObject{
		device:        d,
		logger:        d.logger,
		handle:        handle,
		size:          size,
		allocatedSize: allocatedSize,
		flags:         flags,
		mapMutex: utils.OptionalRWMutex{
			UseMutex: d.tableMutex.UseMutex,
		},
	}
	bo.refCount.Store(1)
	d.handleTable.Put(handle, bo)

	return bo, nil
}
