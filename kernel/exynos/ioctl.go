//go:build linux

package exynos

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	drmIoctlBase   = 'd'
	drmCommandBase = 0x40
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | drmIoctlBase<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func iow(nr, size uintptr) uintptr {
	return ioc(iocWrite, nr, size)
}

func iowr(nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, nr, size)
}

// Kernel ABI argument structs. Layouts match include/uapi/drm/drm.h and exynos_drm.h.

type gemClose struct {
	handle uint32
	pad    uint32
}

type gemFlink struct {
	handle uint32
	name   uint32
}

type gemOpen struct {
	name   uint32
	handle uint32
	size   uint64
}

type exynosGemCreate struct {
	size   uint64
	flags  uint32
	handle uint32
}

type exynosGemMmap struct {
	handle uint32
	pad    uint32
	size   uint64
	mapped uint64
}

// g3dSubmit is the argument of the FIMG-3DSE submit command, which is not part of the mainline
// exynos uapi
type g3dSubmit struct {
	handle    uint32
	offset    uint32
	size      uint32
	timestamp uint32
}

var (
	ioctlGemClose        = iow(0x09, unsafe.Sizeof(gemClose{}))
	ioctlGemFlink        = iowr(0x0a, unsafe.Sizeof(gemFlink{}))
	ioctlGemOpen         = iowr(0x0b, unsafe.Sizeof(gemOpen{}))
	ioctlExynosGemCreate = iowr(drmCommandBase+0x00, unsafe.Sizeof(exynosGemCreate{}))
	ioctlExynosGemMmap   = iowr(drmCommandBase+0x02, unsafe.Sizeof(exynosGemMmap{}))
	ioctlExynosG3DSubmit = iowr(drmCommandBase+0x30, unsafe.Sizeof(g3dSubmit{}))
)

// drmIoctl issues an ioctl, restarting it when interrupted
func drmIoctl(fd int, request uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}
