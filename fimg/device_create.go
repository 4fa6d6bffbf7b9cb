package fimg

import (
	"github.com/openfimg/fimg/internal/utils"
)

// DeviceCreateFlags indicate specific device behaviors to activate or deactivate
type DeviceCreateFlags int32

var deviceCreateFlagsMapping = utils.NewFlagStringMapping[DeviceCreateFlags]()

func (f DeviceCreateFlags) Register(str string) {
	deviceCreateFlagsMapping.Register(f, str)
}
func (f DeviceCreateFlags) String() string {
	return deviceCreateFlagsMapping.FlagsToString(f)
}

const (
	// DeviceCreateExternallySynchronized ensures that the buffer object indices and mappings of this
	// device will not be synchronized internally. The consumer must guarantee that buffer objects of
	// the device are created, named, mapped and released from only one goroutine at a time.
	DeviceCreateExternallySynchronized DeviceCreateFlags = 1 << iota
)

func init() {
	DeviceCreateExternallySynchronized.Register("DeviceCreateExternallySynchronized")
}

const (
	// defaultAllocationGranularity is the value used as the AllocationGranularity when none is
	// provided via DeviceCreateOptions. It is the page size of the GEM allocator.
	defaultAllocationGranularity uint = 4096
)

// DeviceCreateOptions contains optional settings when opening a device. They are only consulted
// when the open creates a new Device; opening an identity that is already registered returns the
// existing Device unchanged.
type DeviceCreateOptions struct {
	// Flags indicates specific device behaviors to activate or deactivate
	Flags DeviceCreateFlags
	// AllocationGranularity is the size every kernel allocation request is rounded up to. It must
	// be a power of two. Zero selects 4096.
	AllocationGranularity uint
}
