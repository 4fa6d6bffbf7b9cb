package fimg

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/openfimg/fimg/kernel"
	"github.com/openfimg/fimg/kernel/fake"
	"github.com/openfimg/fimg/kernel/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sys/unix"
)

func TestPipe_AddToSubmissionIsIdempotent(t *testing.T) {
	_, _, device := readyDevice(t, DeviceSetup{})
	pipe := readyPipe(t, device, PipeKind3D)
	bo := readyBuffer(t, device, 100)

	pipe.AddToSubmission(bo)
	require.Equal(t, 2, bo.RefCount())
	require.Equal(t, 1, pipe.SubmitCount())

	pipe.AddToSubmission(bo)
	require.Equal(t, 2, bo.RefCount())
	require.Equal(t, 1, pipe.SubmitCount())
	require.NoError(t, pipe.Validate())

	require.NoError(t, pipe.Destroy())
	require.Equal(t, 1, bo.RefCount())
	require.NoError(t, bo.Release())
	require.NoError(t, device.Release())
}

func TestPipe_AddToSubmissionMovesToTail(t *testing.T) {
	_, _, device := readyDevice(t, DeviceSetup{})
	pipe := readyPipe(t, device, PipeKind3D)
	first := readyBuffer(t, device, 100)
	second := readyBuffer(t, device, 100)

	pipe.AddToSubmission(first)
	pipe.AddToSubmission(second)
	pipe.AddToSubmission(first)

	var order []*BufferObject
	pipe.submitQueue.Each(func(bo *BufferObject) bool {
		order = append(order, bo)
		return false
	})
	require.Equal(t, []*BufferObject{second, first}, order)
	require.NoError(t, pipe.Validate())

	require.NoError(t, pipe.Destroy())
	require.NoError(t, first.Release())
	require.NoError(t, second.Release())
	require.NoError(t, device.Release())
}

func TestPipe_PostSubmitStampsEverything(t *testing.T) {
	_, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionNone},
	})
	pipe := readyPipe(t, device, PipeKind3D)
	ring := readyRing(t, pipe, 64)
	first := readyBuffer(t, device, 100)
	second := readyBuffer(t, device, 100)

	ring.EmitReloc(first, 0, 0)
	ring.EmitReloc(second, 0, 0)
	ring.EmitReloc(first, 4, 0)

	timestamp, err := ring.Flush()
	require.NoError(t, err)
	require.Equal(t, kernel.Timestamp(1), timestamp)

	require.Equal(t, 0, pipe.SubmitCount())
	require.Equal(t, 2, pipe.PendingCount())
	for _, bo := range []*BufferObject{first, second} {
		require.Equal(t, timestamp, bo.Timestamp(PipeKind3D))
		require.Equal(t, kernel.Timestamp(0), bo.Timestamp(PipeKind2D))
		require.Equal(t, timestamp, bo.ScanoutTimestamp())
		require.Equal(t, 2, bo.RefCount())
	}
	require.NoError(t, pipe.Validate())

	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, first.Release())
	require.NoError(t, second.Release())
	require.NoError(t, device.Release())
}

func TestPipe_RetirePendingRemovesPrefix(t *testing.T) {
	_, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionNone},
	})
	pipe := readyPipe(t, device, PipeKind3D)
	ring := readyRing(t, pipe, 64)

	var buffers []*BufferObject
	var timestamps []kernel.Timestamp
	for i := 0; i < 3; i++ {
		bo := readyBuffer(t, device, 100)
		buffers = append(buffers, bo)

		ring.EmitReloc(bo, 0, 0)
		timestamp, err := ring.Flush()
		require.NoError(t, err)
		timestamps = append(timestamps, timestamp)
	}
	require.Equal(t, 3, pipe.PendingCount())

	require.NoError(t, pipe.RetirePending(0))
	require.Equal(t, 3, pipe.PendingCount())

	require.NoError(t, pipe.RetirePending(timestamps[1]))
	require.Equal(t, 1, pipe.PendingCount())
	for _, bo := range buffers[:2] {
		require.Equal(t, 1, bo.RefCount())
		require.Equal(t, kernel.Timestamp(0), bo.Timestamp(PipeKind3D))
	}
	require.Equal(t, 2, buffers[2].RefCount())
	require.Equal(t, timestamps[2], buffers[2].Timestamp(PipeKind3D))
	require.NoError(t, pipe.Validate())

	require.NoError(t, pipe.RetirePending(timestamps[2]))
	require.Equal(t, 0, pipe.PendingCount())
	require.Equal(t, 1, buffers[2].RefCount())

	for _, bo := range buffers {
		require.NoError(t, bo.Release())
	}
	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, device.Release())
}

func TestPipe_RetireDestroysUnreferencedBuffers(t *testing.T) {
	k, file, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionQuery},
	})
	pipe := readyPipe(t, device, PipeKind3D)
	ring := readyRing(t, pipe, 16)

	bo := readyBuffer(t, device, 100)
	ring.EmitReloc(bo, 0, 0)
	require.NoError(t, bo.Release())

	timestamp, err := ring.Flush()
	require.NoError(t, err)
	require.Equal(t, 1, pipe.PendingCount())
	require.Equal(t, 2, file.OpenHandles())

	k.Complete(kernel.Engine3D, timestamp)
	require.NoError(t, pipe.Retire())
	require.Equal(t, 0, pipe.PendingCount())
	require.Equal(t, 1, file.OpenHandles())

	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, device.Release())
	require.Equal(t, 0, k.LiveObjects())
}

func TestPipe_PostSubmitRetiresCompleted(t *testing.T) {
	_, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{AutoComplete: true},
	})
	pipe := readyPipe(t, device, PipeKind3D)
	ring := readyRing(t, pipe, 16)
	bo := readyBuffer(t, device, 100)

	ring.EmitReloc(bo, 0, 0)
	timestamp, err := ring.Flush()
	require.NoError(t, err)

	require.Equal(t, 0, pipe.PendingCount())
	require.Equal(t, 1, bo.RefCount())
	require.Equal(t, kernel.Timestamp(0), bo.Timestamp(PipeKind3D))
	require.Equal(t, timestamp, bo.ScanoutTimestamp())

	require.NoError(t, bo.Release())
	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, device.Release())
}

func TestPipe_ResubmitPendingKeepsReference(t *testing.T) {
	_, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionNone},
	})
	pipe := readyPipe(t, device, PipeKind3D)
	ring := readyRing(t, pipe, 16)
	bo := readyBuffer(t, device, 100)

	ring.EmitReloc(bo, 0, 0)
	first, err := ring.Flush()
	require.NoError(t, err)
	require.Equal(t, 1, pipe.PendingCount())

	ring.EmitReloc(bo, 0, 0)
	require.Equal(t, 0, pipe.PendingCount())
	require.Equal(t, 1, pipe.SubmitCount())
	require.Equal(t, 2, bo.RefCount())

	second, err := ring.Flush()
	require.NoError(t, err)
	require.Greater(t, uint32(second), uint32(first))
	require.Equal(t, second, bo.Timestamp(PipeKind3D))

	// Retiring the first submission must not drop the reference held for the second
	require.NoError(t, pipe.RetirePending(first))
	require.Equal(t, 2, bo.RefCount())

	require.NoError(t, pipe.RetirePending(second))
	require.Equal(t, 1, bo.RefCount())

	require.NoError(t, bo.Release())
	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, device.Release())
}

func TestPipe_SameKindPipesRetireIndependently(t *testing.T) {
	k, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionQuery},
	})
	first := readyPipe(t, device, PipeKind3D)
	second := readyPipe(t, device, PipeKind3D)
	firstRing := readyRing(t, first, 16)
	secondRing := readyRing(t, second, 16)
	shared := readyBuffer(t, device, 100)
	private := readyBuffer(t, device, 100)

	firstRing.EmitReloc(shared, 0, 0)
	_, err := firstRing.Flush()
	require.NoError(t, err)
	firstRing.EmitReloc(private, 0, 0)
	privateTimestamp, err := firstRing.Flush()
	require.NoError(t, err)

	secondRing.EmitReloc(shared, 0, 0)
	sharedTimestamp, err := secondRing.Flush()
	require.NoError(t, err)
	require.Greater(t, uint32(sharedTimestamp), uint32(privateTimestamp))
	require.Equal(t, sharedTimestamp, shared.Timestamp(PipeKind3D))
	require.NoError(t, first.Validate())

	k.Complete(kernel.Engine3D, privateTimestamp)
	require.NoError(t, first.Retire())
	require.Equal(t, 0, first.PendingCount())
	require.Equal(t, 1, private.RefCount())
	require.Equal(t, 2, shared.RefCount())
	require.Equal(t, sharedTimestamp, shared.Timestamp(PipeKind3D))

	require.NoError(t, second.Retire())
	require.Equal(t, 1, second.PendingCount())

	k.Complete(kernel.Engine3D, sharedTimestamp)
	require.NoError(t, second.Retire())
	require.Equal(t, 0, second.PendingCount())
	require.Equal(t, 1, shared.RefCount())
	require.Equal(t, kernel.Timestamp(0), shared.Timestamp(PipeKind3D))

	require.NoError(t, shared.Release())
	require.NoError(t, private.Release())
	require.NoError(t, firstRing.Destroy())
	require.NoError(t, secondRing.Destroy())
	require.NoError(t, first.Destroy())
	require.NoError(t, second.Destroy())
	require.NoError(t, device.Release())
}

func TestPipe_WaitWithKernelWait(t *testing.T) {
	k, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionWait},
	})
	pipe := readyPipe(t, device, PipeKind3D)
	ring := readyRing(t, pipe, 16)

	ring.Emit(0)
	timestamp, err := ring.Flush()
	require.NoError(t, err)

	completed, err := pipe.QueryTimestamp()
	require.NoError(t, err)
	require.Equal(t, kernel.Timestamp(0), completed)

	require.NoError(t, pipe.Wait(context.Background(), timestamp))

	completed, err = pipe.QueryTimestamp()
	require.NoError(t, err)
	require.Equal(t, timestamp, completed)
	require.Len(t, k.Submissions(), 1)

	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, device.Release())
}

func TestPipe_WaitPolls(t *testing.T) {
	k, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionQuery},
	})
	pipe, err := device.CreatePipe(PipeKind3D, PipeCreateOptions{PollInterval: time.Millisecond})
	require.NoError(t, err)
	ring := readyRing(t, pipe, 16)

	ring.Emit(0)
	timestamp, err := ring.Flush()
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		k.Complete(kernel.Engine3D, timestamp)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pipe.Wait(ctx, timestamp))

	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, device.Release())
}

func TestPipe_WaitPollTimeout(t *testing.T) {
	_, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionQuery},
	})
	pipe := readyPipe(t, device, PipeKind3D)
	ring := readyRing(t, pipe, 16)

	ring.Emit(0)
	timestamp, err := ring.Flush()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = pipe.Wait(ctx, timestamp)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, device.Release())
}

func TestPipe_WaitNotSupported(t *testing.T) {
	_, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionNone},
	})
	pipe := readyPipe(t, device, PipeKind3D)

	_, err := pipe.QueryTimestamp()
	require.True(t, errors.Is(err, ErrNotSupported))

	err = pipe.Wait(context.Background(), 1)
	require.True(t, errors.Is(err, ErrNotSupported))
	errno, ok := KernelErrno(err)
	require.True(t, ok)
	require.Equal(t, unix.ENOTSUP, errno)

	require.True(t, errors.Is(pipe.Retire(), ErrNotSupported))

	require.NoError(t, pipe.Destroy())
	require.NoError(t, device.Release())
}

func TestPipe_AuxiliaryWaitsOnPrimary(t *testing.T) {
	k, file, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionWait},
	})
	primary := readyPipe(t, device, PipeKind3D)
	auxiliary := readyPipe(t, device, PipeKind2D)
	primaryRing := readyRing(t, primary, 16)
	auxiliaryRing := readyRing(t, auxiliary, 16)
	bo := readyBuffer(t, device, 100)

	primaryRing.EmitReloc(bo, 0, 0)
	produced, err := primaryRing.Flush()
	require.NoError(t, err)

	completed, err := primary.QueryTimestamp()
	require.NoError(t, err)
	require.Less(t, uint32(completed), uint32(produced))

	auxiliaryRing.EmitReloc(bo, 0, 0)
	consumed, err := auxiliaryRing.Flush()
	require.NoError(t, err)
	require.Equal(t, consumed, bo.Timestamp(PipeKind2D))
	require.Equal(t, produced, bo.Timestamp(PipeKind3D))

	// The auxiliary flush waited for the primary engine before submitting
	completed, err = primary.QueryTimestamp()
	require.NoError(t, err)
	require.Equal(t, produced, completed)
	require.Equal(t, 3, file.OpenQueues())

	submissions := k.Submissions()
	require.Len(t, submissions, 2)
	require.Equal(t, kernel.Engine3D, submissions[0].Engine)
	require.Equal(t, kernel.Engine2D, submissions[1].Engine)

	require.NoError(t, primary.Retire())
	require.Equal(t, 0, primary.PendingCount())
	require.Equal(t, 1, auxiliary.PendingCount())

	require.NoError(t, auxiliaryRing.Destroy())
	require.NoError(t, auxiliary.Destroy())
	require.Equal(t, 1, file.OpenQueues())
	require.Equal(t, 1, bo.RefCount())

	require.NoError(t, primaryRing.Destroy())
	require.NoError(t, primary.Destroy())
	require.NoError(t, bo.Release())
	require.NoError(t, device.Release())
}

func TestPipe_AuxiliaryWithoutCompletionSubmits(t *testing.T) {
	k, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionNone},
	})
	primary := readyPipe(t, device, PipeKind3D)
	auxiliary := readyPipe(t, device, PipeKind2D)
	primaryRing := readyRing(t, primary, 16)
	auxiliaryRing := readyRing(t, auxiliary, 16)
	bo := readyBuffer(t, device, 100)

	primaryRing.EmitReloc(bo, 0, 0)
	_, err := primaryRing.Flush()
	require.NoError(t, err)

	auxiliaryRing.EmitReloc(bo, 0, 0)
	_, err = auxiliaryRing.Flush()
	require.NoError(t, err)
	require.Len(t, k.Submissions(), 2)

	require.NoError(t, auxiliaryRing.Destroy())
	require.NoError(t, auxiliary.Destroy())
	require.NoError(t, primaryRing.Destroy())
	require.NoError(t, primary.Destroy())
	require.NoError(t, bo.Release())
	require.NoError(t, device.Release())
}

func TestPipe_AuxiliaryWaitFailureAbortsFlush(t *testing.T) {
	k, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionWait},
	})
	primary := readyPipe(t, device, PipeKind3D)
	auxiliary := readyPipe(t, device, PipeKind2D)
	primaryRing := readyRing(t, primary, 16)
	auxiliaryRing := readyRing(t, auxiliary, 16)
	bo := readyBuffer(t, device, 100)

	primaryRing.EmitReloc(bo, 0, 0)
	_, err := primaryRing.Flush()
	require.NoError(t, err)

	auxiliaryRing.EmitReloc(bo, 0, 0)
	k.FailNext(fake.OpWaitTimestamp, unix.EIO)
	_, err = auxiliaryRing.Flush()
	require.Error(t, err)
	errno, ok := KernelErrno(err)
	require.True(t, ok)
	require.Equal(t, unix.EIO, errno)

	// Nothing reached the kernel, so the range and the queued buffer object stay put
	require.Len(t, k.Submissions(), 1)
	require.Equal(t, 0, auxiliaryRing.LastStart())
	require.Equal(t, 1, auxiliaryRing.Cursor())
	require.Equal(t, 1, auxiliary.SubmitCount())

	_, err = auxiliaryRing.Flush()
	require.NoError(t, err)
	require.Len(t, k.Submissions(), 2)

	require.NoError(t, auxiliaryRing.Destroy())
	require.NoError(t, auxiliary.Destroy())
	require.NoError(t, primaryRing.Destroy())
	require.NoError(t, primary.Destroy())
	require.NoError(t, bo.Release())
	require.NoError(t, device.Release())
}

func TestPipe_DestroyReleasesQueues(t *testing.T) {
	_, file, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionNone},
	})
	pipe := readyPipe(t, device, PipeKind3D)
	ring := readyRing(t, pipe, 16)
	submitted := readyBuffer(t, device, 100)
	queued := readyBuffer(t, device, 100)

	ring.EmitReloc(submitted, 0, 0)
	_, err := ring.Flush()
	require.NoError(t, err)
	pipe.AddToSubmission(queued)

	require.Equal(t, 1, pipe.SubmitCount())
	require.Equal(t, 1, pipe.PendingCount())
	require.Equal(t, 5, device.RefCount())

	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.Equal(t, 1, submitted.RefCount())
	require.Equal(t, 1, queued.RefCount())
	require.Equal(t, kernel.Timestamp(0), submitted.Timestamp(PipeKind3D))
	require.Equal(t, 0, file.OpenQueues())
	require.Equal(t, 3, device.RefCount())

	require.NoError(t, submitted.Release())
	require.NoError(t, queued.Release())
	require.NoError(t, device.Release())
	require.True(t, file.Closed())
}

func TestPipe_CreateFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	kernelDevice, device := mockDevice(t, ctrl)

	kernelDevice.EXPECT().OpenQueue(kernel.Engine2D).Return(nil, unix.ENODEV)
	kernelDevice.EXPECT().Close().Return(nil)

	_, err := device.CreatePipe(PipeKind2D, PipeCreateOptions{})
	require.Error(t, err)
	errno, ok := KernelErrno(err)
	require.True(t, ok)
	require.Equal(t, unix.ENODEV, errno)
	require.Equal(t, 1, device.RefCount())

	_, err = device.CreatePipe(PipeKind(7), PipeCreateOptions{})
	require.Error(t, err)

	require.NoError(t, device.Release())
}

func TestPipe_SubmitArguments(t *testing.T) {
	ctrl := gomock.NewController(t)
	kernelDevice, device := mockDevice(t, ctrl)
	queue := mocks.NewMockQueue(ctrl)

	backing := make([]byte, 32)
	kernelDevice.EXPECT().OpenQueue(kernel.Engine3D).Return(queue, nil)
	kernelDevice.EXPECT().CreateBuffer(4096, kernel.BufferWriteCombine).Return(kernel.Handle(2), nil)
	kernelDevice.EXPECT().MapHandle(kernel.Handle(2), 32).Return(backing, nil)
	kernelDevice.EXPECT().UnmapHandle(kernel.Handle(2), gomock.Any()).Return(nil)
	kernelDevice.EXPECT().CloseHandle(kernel.Handle(2)).Return(nil)
	kernelDevice.EXPECT().Close().Return(nil)

	gomock.InOrder(
		queue.EXPECT().Submit(kernel.Handle(2), 0, 12).Return(kernel.Timestamp(10), nil),
		queue.EXPECT().CompletedTimestamp().Return(kernel.Timestamp(0), unix.ENOTSUP),
		queue.EXPECT().Submit(kernel.Handle(2), 12, 8).Return(kernel.Timestamp(11), nil),
		queue.EXPECT().CompletedTimestamp().Return(kernel.Timestamp(0), unix.ENOTSUP),
		queue.EXPECT().Close().Return(nil),
	)

	pipe := readyPipe(t, device, PipeKind3D)
	ring, err := pipe.CreateRingBuffer(32, RingBufferCreateOptions{Flags: RingBufferCreateWriteCombine})
	require.NoError(t, err)

	ring.Emit(1)
	ring.Emit(2)
	ring.Emit(3)
	timestamp, err := ring.Flush()
	require.NoError(t, err)
	require.Equal(t, kernel.Timestamp(10), timestamp)

	ring.Emit(4)
	ring.Emit(5)
	timestamp, err = ring.Flush()
	require.NoError(t, err)
	require.Equal(t, kernel.Timestamp(11), timestamp)
	require.Equal(t, kernel.Timestamp(11), ring.Timestamp())

	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, device.Release())
}

func TestPipe_PrintQueues(t *testing.T) {
	_, _, device := readyDevice(t, DeviceSetup{
		Kernel: fake.Options{Completion: fake.CompletionNone},
	})
	pipe := readyPipe(t, device, PipeKind3D)
	ring := readyRing(t, pipe, 16)
	pending := readyBuffer(t, device, 100)
	queued := readyBuffer(t, device, 100)

	ring.EmitReloc(pending, 0, 0)
	timestamp, err := ring.Flush()
	require.NoError(t, err)
	pipe.AddToSubmission(queued)

	writer := jwriter.NewWriter()
	pipe.PrintQueues(&writer)

	var document struct {
		Kind    string
		Submit  []int
		Pending []struct {
			Handle    int
			Timestamp int
		}
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &document))
	require.Equal(t, "PipeKind3D", document.Kind)
	require.Equal(t, []int{int(queued.Handle())}, document.Submit)
	require.Len(t, document.Pending, 1)
	require.Equal(t, int(pending.Handle()), document.Pending[0].Handle)
	require.Equal(t, int(timestamp), document.Pending[0].Timestamp)

	require.NoError(t, ring.Destroy())
	require.NoError(t, pipe.Destroy())
	require.NoError(t, pending.Release())
	require.NoError(t, queued.Release())
	require.NoError(t, device.Release())
}
