package fimg

import (
	"sync"

	"github.com/dolthub/swiss"
	"github.com/openfimg/fimg/kernel"
	"github.com/openfimg/fimg/memutils"
	"golang.org/x/exp/slog"
)

// Registry deduplicates Devices by the storage identity of their descriptors, so that every
// open of the same device node in the process shares one Device and therefore one set of
// buffer object indices.
//
// Most programs use the process-wide registry through OpenDevice. A Registry has no shutdown
// step: it is empty once every Device opened through it has been released.
type Registry struct {
	logger *slog.Logger

	mutex   sync.Mutex
	devices *swiss.Map[kernel.Identity, *Device]
}

// NewRegistry creates an empty registry. Devices opened through it log to logger; a nil logger
// discards all output.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = newNopLogger()
	}

	return &Registry{
		logger:  logger,
		devices: swiss.NewMap[kernel.Identity, *Device](8),
	}
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the process-wide registry, creating it on first use. It logs to slog.Default().
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(slog.Default())
	})
	return defaultRegistry
}

// OpenDevice opens descriptor through the process-wide registry
func OpenDevice(descriptor kernel.Device, options DeviceCreateOptions) (*Device, error) {
	return DefaultRegistry().Open(descriptor, options)
}

// Open returns the Device for the storage identity of descriptor. If a live Device already exists
// for that identity, its reference count is incremented and it is returned; descriptor remains
// owned by the caller in that case. Otherwise a new Device is created that takes ownership of
// descriptor and closes it when its last reference is released.
func (r *Registry) Open(descriptor kernel.Device, options DeviceCreateOptions) (*Device, error) {
	r.logger.Debug("Registry::Open")

	granularity := options.AllocationGranularity
	if granularity == 0 {
		granularity = defaultAllocationGranularity
	}
	err := memutils.CheckPow2(granularity, "DeviceCreateOptions.AllocationGranularity")
	if err != nil {
		return nil, err
	}

	identity, err := descriptor.Identity()
	if err != nil {
		r.logger.Error("failed to probe device identity", slog.Any("error", err))
		return nil, kernelError(err, ErrIdentity, "probe device identity")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	device, ok := r.devices.Get(identity)
	if ok && device.tryRef() {
		r.logger.Debug("    Returned existing device",
			slog.Uint64("dev", identity.Dev),
			slog.Uint64("inode", identity.Inode),
			slog.Int("refCount", device.RefCount()))
		return device, nil
	}

	device = newDevice(r, descriptor, identity, granularity, options.Flags)
	r.devices.Put(identity, device)

	r.logger.Debug("    Created device",
		slog.Uint64("dev", identity.Dev),
		slog.Uint64("inode", identity.Inode),
		slog.Uint64("granularity", uint64(granularity)))

	return device, nil
}

// Len returns the number of identities with a registered Device
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.devices.Count()
}

// Statistics aggregates the statistics of every device registered with r
func (r *Registry) Statistics(stats *memutils.DetailedStatistics) {
	stats.Clear()

	r.mutex.Lock()
	var devices []*Device
	r.devices.Iter(func(identity kernel.Identity, device *Device) (stop bool) {
		devices = append(devices, device)
		return false
	})
	r.mutex.Unlock()

	var deviceStats memutils.DetailedStatistics
	for _, device := range devices {
		device.Statistics(&deviceStats)
		stats.AddDetailedStatistics(&deviceStats)
	}
}

// unregister removes device from the registry, unless the identity has already been taken over
// by a newer Device
func (r *Registry) unregister(device *Device) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	current, ok := r.devices.Get(device.identity)
	if ok && current == device {
		r.devices.Delete(device.identity)
	}
}
