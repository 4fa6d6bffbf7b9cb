// Package fake provides an in-memory implementation of the kernel interfaces. It behaves like a
// GEM driver with a per-file handle table, a global flink namespace, Go-backed mappings and
// in-order engines whose completion can be driven by the caller.
package fake

import (
	"sync"
	"unsafe"

	"github.com/openfimg/fimg/kernel"
	"golang.org/x/sys/unix"
)

// Op names a kernel operation for failure injection
type Op int

const (
	OpIdentity Op = iota
	OpCreateBuffer
	OpOpenByName
	OpCloseHandle
	OpMintName
	OpMapHandle
	OpUnmapHandle
	OpOpenQueue
	OpSubmit
	OpCompletedTimestamp
	OpWaitTimestamp
	OpClose
)

// CompletionMode selects which completion primitives the fake engines support
type CompletionMode int

const (
	// CompletionQuery supports CompletedTimestamp but not WaitTimestamp
	CompletionQuery CompletionMode = iota
	// CompletionWait supports both CompletedTimestamp and WaitTimestamp
	CompletionWait
	// CompletionNone supports neither, like a kernel without completion notification
	CompletionNone
)

const defaultAddressBase uint32 = 0x10000000

type Options struct {
	Identity   kernel.Identity
	Completion CompletionMode
	// AutoComplete marks every submission complete as soon as it is submitted
	AutoComplete bool
	// NoAddresses disables GPU address assignment; GPUAddress always reports zero
	NoAddresses bool
}

// CreateRequest records the arguments of a CreateBuffer call
type CreateRequest struct {
	Size  int
	Flags kernel.BufferFlags
}

// Submission records a command range handed to an engine
type Submission struct {
	Engine    kernel.Engine
	Handle    kernel.Handle
	Offset    int
	Length    int
	Words     []uint32
	Timestamp kernel.Timestamp
}

type object struct {
	size    int
	words   []uint32
	data    []byte
	name    kernel.Name
	gpuAddr uint32
	handles int
}

type engineState struct {
	submitted kernel.Timestamp
	completed kernel.Timestamp
}

// Kernel is the fake driver shared by every Device opened from it
type Kernel struct {
	mu   sync.Mutex
	opts Options

	nextName kernel.Name
	nextAddr uint32
	names    map[kernel.Name]*object
	objects  int

	engines        [2]engineState
	submissions    []Submission
	createRequests []CreateRequest
	failures       map[Op]unix.Errno
}

func NewKernel(opts Options) *Kernel {
	if opts.Identity == (kernel.Identity{}) {
		opts.Identity = kernel.Identity{Dev: 226, Inode: 42}
	}

	return &Kernel{
		opts:     opts,
		nextName: 1,
		nextAddr: defaultAddressBase,
		names:    make(map[kernel.Name]*object),
		failures: make(map[Op]unix.Errno),
	}
}

// Open returns a new file on the fake driver. Every file reports the same identity.
func (k *Kernel) Open() *Device {
	return &Device{
		kernel:     k,
		nextHandle: 1,
		handles:    make(map[kernel.Handle]*object),
	}
}

// FailNext causes the next call of op, on any file, to fail with errno
func (k *Kernel) FailNext(op Op, errno unix.Errno) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.failures[op] = errno
}

func (k *Kernel) takeFailure(op Op) error {
	errno, ok := k.failures[op]
	if !ok {
		return nil
	}
	delete(k.failures, op)
	return errno
}

// Complete marks every submission on engine up to and including timestamp as finished
func (k *Kernel) Complete(engine kernel.Engine, timestamp kernel.Timestamp) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if timestamp > k.engines[engine].completed {
		k.engines[engine].completed = timestamp
	}
}

// CompleteAll marks every submission on every engine as finished
func (k *Kernel) CompleteAll() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for i := range k.engines {
		k.engines[i].completed = k.engines[i].submitted
	}
}

// Submissions returns a copy of every submission recorded so far
func (k *Kernel) Submissions() []Submission {
	k.mu.Lock()
	defer k.mu.Unlock()

	return append([]Submission(nil), k.submissions...)
}

// CreateRequests returns a copy of the arguments of every CreateBuffer call recorded so far
func (k *Kernel) CreateRequests() []CreateRequest {
	k.mu.Lock()
	defer k.mu.Unlock()

	return append([]CreateRequest(nil), k.createRequests...)
}

// LiveObjects returns the number of buffer objects with at least one open handle
func (k *Kernel) LiveObjects() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.objects
}

func (k *Kernel) newObject(size int) *object {
	words := make([]uint32, (size+3)/4)
	obj := &object{
		size:  size,
		words: words,
		data:  unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size),
	}

	if !k.opts.NoAddresses {
		obj.gpuAddr = k.nextAddr
		k.nextAddr += uint32((size + 4095) &^ 4095)
	}

	k.objects++
	return obj
}

// Device is one open file on a fake Kernel. It owns a private handle table.
type Device struct {
	kernel *Kernel

	closed     bool
	nextHandle kernel.Handle
	handles    map[kernel.Handle]*object
	openQueues int
}

var _ kernel.Device = &Device{}
var _ kernel.AddressResolver = &Device{}

// Closed reports whether Close has been called on this file
func (d *Device) Closed() bool {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	return d.closed
}

// OpenHandles returns the number of handles open on this file
func (d *Device) OpenHandles() int {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	return len(d.handles)
}

// OpenQueues returns the number of queues opened on this file that have not been closed
func (d *Device) OpenQueues() int {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	return d.openQueues
}

func (d *Device) addHandle(obj *object) kernel.Handle {
	handle := d.nextHandle
	d.nextHandle++
	obj.handles++
	d.handles[handle] = obj
	return handle
}

func (d *Device) Identity() (kernel.Identity, error) {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	if err := d.kernel.takeFailure(OpIdentity); err != nil {
		return kernel.Identity{}, err
	}
	if d.closed {
		return kernel.Identity{}, unix.EBADF
	}

	return d.kernel.opts.Identity, nil
}

func (d *Device) CreateBuffer(size int, flags kernel.BufferFlags) (kernel.Handle, error) {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	d.kernel.createRequests = append(d.kernel.createRequests, CreateRequest{Size: size, Flags: flags})
	if err := d.kernel.takeFailure(OpCreateBuffer); err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, unix.EINVAL
	}

	return d.addHandle(d.kernel.newObject(size)), nil
}

func (d *Device) OpenByName(name kernel.Name) (kernel.Handle, int, error) {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	if err := d.kernel.takeFailure(OpOpenByName); err != nil {
		return 0, 0, err
	}

	obj, ok := d.kernel.names[name]
	if !ok {
		return 0, 0, unix.ENOENT
	}

	return d.addHandle(obj), obj.size, nil
}

func (d *Device) CloseHandle(handle kernel.Handle) error {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	if err := d.kernel.takeFailure(OpCloseHandle); err != nil {
		return err
	}

	obj, ok := d.handles[handle]
	if !ok {
		return unix.EINVAL
	}
	delete(d.handles, handle)

	obj.handles--
	if obj.handles == 0 {
		if obj.name != 0 {
			delete(d.kernel.names, obj.name)
		}
		d.kernel.objects--
	}

	return nil
}

func (d *Device) MintName(handle kernel.Handle) (kernel.Name, error) {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	if err := d.kernel.takeFailure(OpMintName); err != nil {
		return 0, err
	}

	obj, ok := d.handles[handle]
	if !ok {
		return 0, unix.ENOENT
	}

	if obj.name == 0 {
		obj.name = d.kernel.nextName
		d.kernel.nextName++
		d.kernel.names[obj.name] = obj
	}

	return obj.name, nil
}

func (d *Device) MapHandle(handle kernel.Handle, size int) ([]byte, error) {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	if err := d.kernel.takeFailure(OpMapHandle); err != nil {
		return nil, err
	}

	obj, ok := d.handles[handle]
	if !ok {
		return nil, unix.EINVAL
	}
	if size <= 0 || size > obj.size {
		return nil, unix.EINVAL
	}

	return obj.data[:size:size], nil
}

func (d *Device) UnmapHandle(handle kernel.Handle, mapping []byte) error {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	if err := d.kernel.takeFailure(OpUnmapHandle); err != nil {
		return err
	}

	if _, ok := d.handles[handle]; !ok {
		return unix.EINVAL
	}

	return nil
}

func (d *Device) GPUAddress(handle kernel.Handle) (uint32, error) {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	obj, ok := d.handles[handle]
	if !ok {
		return 0, unix.EINVAL
	}

	return obj.gpuAddr, nil
}

func (d *Device) OpenQueue(engine kernel.Engine) (kernel.Queue, error) {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	if err := d.kernel.takeFailure(OpOpenQueue); err != nil {
		return nil, err
	}
	if int(engine) >= len(d.kernel.engines) {
		return nil, unix.ENODEV
	}

	d.openQueues++
	return &Queue{device: d, engine: engine}, nil
}

func (d *Device) Close() error {
	d.kernel.mu.Lock()
	defer d.kernel.mu.Unlock()

	if err := d.kernel.takeFailure(OpClose); err != nil {
		return err
	}
	if d.closed {
		return unix.EBADF
	}

	d.closed = true
	return nil
}

// Queue is a submission queue on one engine of a fake Kernel
type Queue struct {
	device *Device
	engine kernel.Engine
	closed bool
}

var _ kernel.Queue = &Queue{}

func (q *Queue) Submit(handle kernel.Handle, offset, length int) (kernel.Timestamp, error) {
	k := q.device.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.takeFailure(OpSubmit); err != nil {
		return 0, err
	}
	if q.closed {
		return 0, unix.EBADF
	}

	obj, ok := q.device.handles[handle]
	if !ok {
		return 0, unix.EINVAL
	}
	if offset < 0 || length < 0 || offset+length > obj.size || offset%4 != 0 || length%4 != 0 {
		return 0, unix.EINVAL
	}

	words := make([]uint32, length/4)
	copy(words, obj.words[offset/4:])

	engine := &k.engines[q.engine]
	engine.submitted++
	if k.opts.AutoComplete {
		engine.completed = engine.submitted
	}

	k.submissions = append(k.submissions, Submission{
		Engine:    q.engine,
		Handle:    handle,
		Offset:    offset,
		Length:    length,
		Words:     words,
		Timestamp: engine.submitted,
	})

	return engine.submitted, nil
}

func (q *Queue) CompletedTimestamp() (kernel.Timestamp, error) {
	k := q.device.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.takeFailure(OpCompletedTimestamp); err != nil {
		return 0, err
	}
	if k.opts.Completion == CompletionNone {
		return 0, unix.ENOTSUP
	}

	return k.engines[q.engine].completed, nil
}

// WaitTimestamp completes the engine up to timestamp immediately, as though the hardware had
// caught up while the caller was blocked
func (q *Queue) WaitTimestamp(timestamp kernel.Timestamp) error {
	k := q.device.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.takeFailure(OpWaitTimestamp); err != nil {
		return err
	}
	if k.opts.Completion != CompletionWait {
		return unix.ENOTSUP
	}

	engine := &k.engines[q.engine]
	if timestamp > engine.submitted {
		return unix.EINVAL
	}
	if timestamp > engine.completed {
		engine.completed = timestamp
	}

	return nil
}

func (q *Queue) Close() error {
	k := q.device.kernel
	k.mu.Lock()
	defer k.mu.Unlock()

	if q.closed {
		return unix.EBADF
	}

	q.closed = true
	q.device.openQueues--
	return nil
}
