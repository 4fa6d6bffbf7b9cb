//go:build linux

// Package exynos implements the kernel interfaces on top of an exynos DRM file descriptor
// running the FIMG-3DSE command submission extension.
package exynos

import (
	"unsafe"

	"github.com/openfimg/fimg/kernel"
	"golang.org/x/sys/unix"
)

// Device is an open exynos DRM descriptor
type Device struct {
	fd int
}

var _ kernel.Device = &Device{}

// New wraps an already-open DRM descriptor. The Device takes ownership of fd and closes it in Close.
func New(fd int) *Device {
	return &Device{fd: fd}
}

// Open opens the DRM device node at path
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	return New(fd), nil
}

// Fd returns the underlying descriptor
func (d *Device) Fd() int {
	return d.fd
}

// Identity keys the descriptor by the device and inode of the node it was opened from, so two
// independent opens of the same node compare equal
func (d *Device) Identity() (kernel.Identity, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(d.fd, &stat); err != nil {
		return kernel.Identity{}, err
	}

	return kernel.Identity{
		Dev:   uint64(stat.Dev),
		Inode: uint64(stat.Ino),
	}, nil
}

func (d *Device) CreateBuffer(size int, flags kernel.BufferFlags) (kernel.Handle, error) {
	req := exynosGemCreate{
		size:  uint64(size),
		flags: uint32(flags),
	}

	if err := drmIoctl(d.fd, ioctlExynosGemCreate, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}

	return kernel.Handle(req.handle), nil
}

func (d *Device) OpenByName(name kernel.Name) (kernel.Handle, int, error) {
	req := gemOpen{
		name: uint32(name),
	}

	if err := drmIoctl(d.fd, ioctlGemOpen, unsafe.Pointer(&req)); err != nil {
		return 0, 0, err
	}

	return kernel.Handle(req.handle), int(req.size), nil
}

func (d *Device) CloseHandle(handle kernel.Handle) error {
	req := gemClose{
		handle: uint32(handle),
	}

	return drmIoctl(d.fd, ioctlGemClose, unsafe.Pointer(&req))
}

func (d *Device) MintName(handle kernel.Handle) (kernel.Name, error) {
	req := gemFlink{
		handle: uint32(handle),
	}

	if err := drmIoctl(d.fd, ioctlGemFlink, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}

	return kernel.Name(req.name), nil
}

// MapHandle asks the driver to establish the mapping itself; the exynos mmap ioctl returns the
// user address of a shared mapping of the whole object
func (d *Device) MapHandle(handle kernel.Handle, size int) ([]byte, error) {
	req := exynosGemMmap{
		handle: uint32(handle),
		size:   uint64(size),
	}

	if err := drmIoctl(d.fd, ioctlExynosGemMmap, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}
	if req.mapped == 0 {
		return nil, unix.EFAULT
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(req.mapped))), size), nil
}

// UnmapHandle tears down a mapping established by MapHandle. The driver created it, so
// unix.Munmap, which only knows mappings made through unix.Mmap, cannot be used.
func (d *Device) UnmapHandle(handle kernel.Handle, mapping []byte) error {
	if len(mapping) == 0 {
		return unix.EINVAL
	}

	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, uintptr(unsafe.Pointer(&mapping[0])), uintptr(len(mapping)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// OpenQueue duplicates the device descriptor for use as the queue descriptor. GEM handles are
// scoped to the open file, so the queue must share it with the device. Only the 3D engine is
// exposed by the driver.
func (d *Device) OpenQueue(engine kernel.Engine) (kernel.Queue, error) {
	if engine != kernel.Engine3D {
		return nil, unix.ENODEV
	}

	fd, err := unix.Dup(d.fd)
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)

	return &Queue{fd: fd}, nil
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// Queue is a duplicated descriptor used for command submission
type Queue struct {
	fd int
}

var _ kernel.Queue = &Queue{}

func (q *Queue) Submit(handle kernel.Handle, offset, length int) (kernel.Timestamp, error) {
	req := g3dSubmit{
		handle: uint32(handle),
		offset: uint32(offset),
		size:   uint32(length),
	}

	err := drmIoctl(q.fd, ioctlExynosG3DSubmit, unsafe.Pointer(&req))
	return kernel.Timestamp(req.timestamp), err
}

// CompletedTimestamp is not supported: the driver has no completion notification yet
func (q *Queue) CompletedTimestamp() (kernel.Timestamp, error) {
	return 0, unix.ENOTSUP
}

// WaitTimestamp is not supported: the driver has no completion notification yet
func (q *Queue) WaitTimestamp(timestamp kernel.Timestamp) error {
	return unix.ENOTSUP
}

func (q *Queue) Close() error {
	return unix.Close(q.fd)
}
