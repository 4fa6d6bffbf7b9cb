package fimg

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/openfimg/fimg/internal/utils"
	"github.com/openfimg/fimg/kernel"
	"github.com/openfimg/fimg/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// RingBufferCreateFlags indicate specific ring buffer behaviors to activate or deactivate
type RingBufferCreateFlags int32

var ringBufferCreateFlagsMapping = utils.NewFlagStringMapping[RingBufferCreateFlags]()

func (f RingBufferCreateFlags) Register(str string) {
	ringBufferCreateFlagsMapping.Register(f, str)
}
func (f RingBufferCreateFlags) String() string {
	return ringBufferCreateFlagsMapping.FlagsToString(f)
}

const (
	// RingBufferCreateWriteCombine backs the ring buffer with write-combined memory
	RingBufferCreateWriteCombine RingBufferCreateFlags = 1 << iota
)

func init() {
	RingBufferCreateWriteCombine.Register("RingBufferCreateWriteCombine")
}

// RingBufferCreateOptions contains optional settings when creating a ring buffer
type RingBufferCreateOptions struct {
	Flags RingBufferCreateFlags
}

// RingBuffer builds a linear stream of 32-bit command words in a mapped buffer object and hands
// ranges of it to its pipe. The stream is filled from the start of the buffer, flushed as often
// as needed, and rewound by Reset once the caller knows nothing in flight still reads it.
//
// A RingBuffer is not safe for concurrent use.
type RingBuffer struct {
	pipe   *Pipe
	logger *slog.Logger
	bo     *BufferObject

	// words is the mapping of bo. start is index 0 and end is len(words).
	words     []uint32
	cur       int
	lastStart int

	lastTimestamp kernel.Timestamp
}

// CreateRingBuffer allocates and maps a size byte backing buffer object for a new ring buffer
// submitting to this pipe. size must be a positive multiple of four.
func (p *Pipe) CreateRingBuffer(size int, options RingBufferCreateOptions) (*RingBuffer, error) {
	p.logger.Debug("Pipe::CreateRingBuffer",
		slog.Int("size", size),
		slog.String("flags", options.Flags.String()))

	if size <= 0 {
		return nil, kernelError(unix.EINVAL, ErrAllocation, "create ring buffer of %d bytes", size)
	}
	err := memutils.CheckAligned(size, 4, "ring buffer size")
	if err != nil {
		return nil, errors.Mark(err, ErrAllocation)
	}

	var boFlags BufferCreateFlags
	if options.Flags&RingBufferCreateWriteCombine != 0 {
		boFlags |= BufferCreateWriteCombine
	}

	bo, err := p.device.CreateBuffer(size, BufferCreateOptions{Flags: boFlags})
	if err != nil {
		return nil, err
	}

	mapping, err := bo.Map()
	if err != nil {
		return nil, errors.CombineErrors(err, bo.Release())
	}
	if len(mapping) < size {
		return nil, errors.CombineErrors(
			kernelError(unix.EINVAL, ErrMapping, "ring buffer mapping is %d bytes, expected %d", len(mapping), size),
			bo.Release(),
		)
	}

	return &RingBuffer{
		pipe:   p,
		logger: p.logger,
		bo:     bo,
		words:  unsafe.Slice((*uint32)(unsafe.Pointer(&mapping[0])), size/4),
	}, nil
}

// Pipe returns the pipe this ring buffer submits to
func (r *RingBuffer) Pipe() *Pipe {
	return r.pipe
}

// BufferObject returns the backing buffer object of the ring buffer
func (r *RingBuffer) BufferObject() *BufferObject {
	return r.bo
}

// Size returns the capacity of the ring buffer in words
func (r *RingBuffer) Size() int {
	return len(r.words)
}

// Cursor returns the index of the next word Emit will write
func (r *RingBuffer) Cursor() int {
	return r.cur
}

// LastStart returns the index of the first word the next Flush will submit
func (r *RingBuffer) LastStart() int {
	return r.lastStart
}

// Word returns the word at index
func (r *RingBuffer) Word(index int) uint32 {
	return r.words[index]
}

// Remaining returns the number of words that can still be emitted before the end of the buffer
func (r *RingBuffer) Remaining() int {
	return len(r.words) - r.cur
}

// Emit writes one command word at the cursor. Emitting past the end of the ring buffer panics;
// callers reserve space with Remaining.
func (r *RingBuffer) Emit(word uint32) {
	r.words[r.cur] = word
	r.cur++
}

// EmitReloc emits the GPU address of offset within bo, ORed with or, and adds bo to the
// pipe's submission. Relocating against a buffer object without a GPU address panics.
func (r *RingBuffer) EmitReloc(bo *BufferObject, offset int, or uint32) {
	r.EmitRelocShift(bo, offset, or, 0)
}

// EmitRelocShift is EmitReloc for address fields at a non-byte granularity: the address is
// shifted left by shift bits, or right when shift is negative, before or is applied. A shift
// that would discard the whole address panics.
func (r *RingBuffer) EmitRelocShift(bo *BufferObject, offset int, or uint32, shift int) {
	if shift <= -32 || shift >= 32 {
		panic(fmt.Sprintf("relocation shift %d against buffer object %d is out of range", shift, bo.handle))
	}

	address := bo.GPUAddress(offset)
	if address == 0 {
		panic(fmt.Sprintf("relocation against buffer object %d, which has no GPU address", bo.handle))
	}

	if shift < 0 {
		address >>= uint(-shift)
	} else {
		address <<= uint(shift)
	}

	r.Emit(address | or)
	r.pipe.AddToSubmission(bo)
}

// EmitRelocRing emits the GPU address of the word target points at, for jumps and calls
// between command streams
func (r *RingBuffer) EmitRelocRing(target *RingMarker, or uint32) {
	r.EmitReloc(target.ring.bo, target.cur*4, or)
}

// Reset rewinds the cursor and the flush boundary to the start of the buffer. The caller must
// ensure no submitted range of the buffer is still being read by the GPU.
func (r *RingBuffer) Reset() {
	r.cur = 0
	r.lastStart = 0
}

// Flush submits every word emitted since the previous flush and returns the completion
// timestamp the kernel assigned. The range counts as handed over even if the kernel rejects it:
// the flush boundary advances and the referenced buffer objects move to retirement.
func (r *RingBuffer) Flush() (kernel.Timestamp, error) {
	return r.flushFrom(r.lastStart)
}

func (r *RingBuffer) flushFrom(from int) (kernel.Timestamp, error) {
	if from > r.cur {
		return 0, errors.Newf("flush from word %d, which is past the cursor at word %d", from, r.cur)
	}

	err := r.pipe.submit(r.bo, from*4, (r.cur-from)*4, func(timestamp kernel.Timestamp) {
		r.lastTimestamp = timestamp
		r.lastStart = r.cur
	})
	return r.lastTimestamp, err
}

// Timestamp returns the completion timestamp of the most recent flush
func (r *RingBuffer) Timestamp() kernel.Timestamp {
	return r.lastTimestamp
}

// Destroy releases the backing buffer object. The pipe keeps its own reference while the
// buffer object is queued on it.
func (r *RingBuffer) Destroy() error {
	r.logger.Debug("RingBuffer::Destroy")

	bo := r.bo
	r.bo = nil
	r.words = nil
	return bo.Release()
}
