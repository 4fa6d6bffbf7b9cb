package fimg

import (
	"io"
	"testing"

	"github.com/openfimg/fimg/kernel/fake"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard))
}

type DeviceSetup struct {
	Kernel        fake.Options
	DeviceOptions DeviceCreateOptions
}

func readyDevice(t *testing.T, setup DeviceSetup) (*fake.Kernel, *fake.Device, *Device) {
	k := fake.NewKernel(setup.Kernel)
	file := k.Open()

	device, err := NewRegistry(testLogger()).Open(file, setup.DeviceOptions)
	require.NoError(t, err)

	return k, file, device
}

func readyPipe(t *testing.T, device *Device, kind PipeKind) *Pipe {
	pipe, err := device.CreatePipe(kind, PipeCreateOptions{})
	require.NoError(t, err)
	return pipe
}

func readyRing(t *testing.T, pipe *Pipe, words int) *RingBuffer {
	ring, err := pipe.CreateRingBuffer(words*4, RingBufferCreateOptions{})
	require.NoError(t, err)
	return ring
}

func readyBuffer(t *testing.T, device *Device, size int) *BufferObject {
	bo, err := device.CreateBuffer(size, BufferCreateOptions{})
	require.NoError(t, err)
	return bo
}
