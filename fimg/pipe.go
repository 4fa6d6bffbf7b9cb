package fimg

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/openfimg/fimg/internal/utils"
	"github.com/openfimg/fimg/kernel"
	"github.com/openfimg/fimg/memutils"
	"golang.org/x/exp/slog"
)

// Pipe is one GPU execution queue. It keeps every buffer object referenced by a command stream
// alive from the moment the stream references it until the GPU has retired the submission
// that consumed it.
//
// A buffer object sits in at most one of two queues per pipe: the submit queue holds buffers
// referenced by commands that have not been flushed yet, the pending queue holds buffers of
// flushed submissions ordered by completion timestamp. Either way the pipe owns one reference
// to it.
type Pipe struct {
	device *Device
	logger *slog.Logger
	kind   PipeKind
	flags  PipeCreateFlags
	queue  kernel.Queue

	mutex        utils.OptionalMutex
	entries      *swiss.Map[*BufferObject, *queueEntry]
	submitQueue  boQueue
	pendingQueue boQueue

	// primary is opened lazily by auxiliary pipes to wait on the primary engine
	primary *Pipe

	pollInterval          time.Duration
	dependencyWaitTimeout time.Duration
}

var _ memutils.Validatable = &Pipe{}

func (p *Pipe) Device() *Device {
	return p.device
}

func (p *Pipe) Kind() PipeKind {
	return p.kind
}

// SubmitCount returns the number of buffer objects waiting for the next flush
func (p *Pipe) SubmitCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.submitQueue.Len()
}

// PendingCount returns the number of buffer objects waiting for retirement
func (p *Pipe) PendingCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.pendingQueue.Len()
}

// AddToSubmission records that the command stream being built references bo. The first
// reference takes a buffer object reference on behalf of the pipe; referencing it again before
// the flush does nothing beyond moving it to the back of the submit queue. A buffer object still
// pending retirement moves back to the submit queue and keeps the reference it already had.
func (p *Pipe) AddToSubmission(bo *BufferObject) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	entry, ok := p.entries.Get(bo)
	if !ok {
		entry = &queueEntry{bo: bo.Ref()}
		p.entries.Put(bo, entry)
		p.submitQueue.pushBack(entry)
		return
	}

	entry.queue.remove(entry)
	p.submitQueue.pushBack(entry)
}

// RetirePending drops the pipe's reference to every buffer object whose submission completed at
// or before completed. Retirement proceeds in FIFO order and stops at the first buffer object
// stamped later than completed.
func (p *Pipe) RetirePending(completed kernel.Timestamp) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.retirePending(completed)
}

func (p *Pipe) retirePending(completed kernel.Timestamp) error {
	var err error

	for entry := p.pendingQueue.head; entry != nil; {
		bo := entry.bo
		if entry.timestamp > completed {
			break
		}

		next := entry.next
		p.pendingQueue.remove(entry)
		p.entries.Delete(bo)
		bo.clearTimestamp(p.kind, entry.timestamp)

		releaseErr := bo.Release()
		if releaseErr != nil {
			err = errors.CombineErrors(err, releaseErr)
		}
		entry = next
	}

	return err
}

// QueryTimestamp returns the most recent timestamp the pipe's engine has completed
func (p *Pipe) QueryTimestamp() (kernel.Timestamp, error) {
	timestamp, err := p.queue.CompletedTimestamp()
	if err != nil {
		if isUnsupported(err) {
			return 0, kernelError(err, ErrNotSupported, "query %s completed timestamp", p.kind)
		}
		return 0, errors.Wrapf(err, "query %s completed timestamp", p.kind)
	}

	return timestamp, nil
}

// Retire queries the completed timestamp and retires everything it covers
func (p *Pipe) Retire() error {
	completed, err := p.QueryTimestamp()
	if err != nil {
		return err
	}

	return p.RetirePending(completed)
}

// Wait blocks until the pipe's engine has completed timestamp. The kernel's blocking wait is
// used when it has one; otherwise the completed timestamp is polled until it catches up or ctx
// is done. ErrNotSupported is returned when the kernel offers neither.
func (p *Pipe) Wait(ctx context.Context, timestamp kernel.Timestamp) error {
	err := p.queue.WaitTimestamp(timestamp)
	if err == nil {
		return nil
	}
	if !isUnsupported(err) {
		return errors.Wrapf(err, "wait for %s timestamp %d", p.kind, timestamp)
	}

	completed, err := p.QueryTimestamp()
	if err != nil {
		return err
	}
	if completed >= timestamp {
		return nil
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "wait for %s timestamp %d, completed %d", p.kind, timestamp, completed)
		case <-ticker.C:
		}

		completed, err = p.QueryTimestamp()
		if err != nil {
			return err
		}
		if completed >= timestamp {
			return nil
		}
	}
}

// submit hands a command range to the kernel, bracketed by the dependency wait and the move of
// the submit queue onto the pending queue. onSubmitted observes the kernel timestamp before the
// buffer objects are stamped with it, even when the kernel rejected the range.
func (p *Pipe) submit(bo *BufferObject, offset, length int, onSubmitted func(timestamp kernel.Timestamp)) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.preSubmit()
	if err != nil {
		return err
	}

	timestamp, submitErr := p.queue.Submit(bo.handle, offset, length)
	if submitErr != nil {
		p.logger.Error("kernel rejected submission",
			slog.String("kind", p.kind.String()),
			slog.Int("offset", offset),
			slog.Int("length", length),
			slog.Any("error", submitErr))
	}

	onSubmitted(timestamp)
	p.postSubmit(timestamp)

	if submitErr != nil {
		return kernelError(submitErr, ErrSubmit, "submit %d bytes at offset %d to %s", length, offset, p.kind)
	}
	return nil
}

// preSubmit makes an auxiliary pipe wait until the primary engine has finished every buffer
// object about to be submitted
func (p *Pipe) preSubmit() error {
	if p.kind == PipeKind3D {
		return nil
	}

	ctx := context.Background()
	if p.dependencyWaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.dependencyWaitTimeout)
		defer cancel()
	}

	for entry := p.submitQueue.head; entry != nil; entry = entry.next {
		timestamp := entry.bo.Timestamp(PipeKind3D)
		if timestamp == 0 {
			continue
		}

		if p.primary == nil {
			primary, err := p.device.createPipe(PipeKind3D, PipeCreateOptions{
				PollInterval: p.pollInterval,
			})
			if err != nil {
				return err
			}
			p.primary = primary
		}

		err := p.primary.Wait(ctx, timestamp)
		if errors.Is(err, ErrNotSupported) {
			p.logger.Warn("primary pipe cannot be waited on, submitting without dependency wait",
				slog.String("kind", p.kind.String()),
				slog.Int("timestamp", int(timestamp)))
			return nil
		} else if err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipe) postSubmit(timestamp kernel.Timestamp) {
	for entry := p.submitQueue.head; entry != nil; {
		next := entry.next
		bo := entry.bo

		p.submitQueue.remove(entry)
		entry.timestamp = timestamp
		bo.setTimestamp(p.kind, timestamp)
		if p.kind == PipeKind3D {
			bo.scanoutTimestamp.Store(uint32(timestamp))
		}
		p.pendingQueue.pushBack(entry)

		entry = next
	}

	completed, err := p.queue.CompletedTimestamp()
	if err == nil {
		retireErr := p.retirePending(completed)
		if retireErr != nil {
			p.logger.Error("failed to retire completed buffer objects", slog.Any("error", retireErr))
		}
	} else if !isUnsupported(err) {
		p.logger.Error("failed to query completed timestamp", slog.Any("error", err))
	}

	memutils.DebugValidate(pipeQueues{pipe: p})
}

// pipeQueues validates a pipe whose mutex is already held
type pipeQueues struct {
	pipe *Pipe
}

func (q pipeQueues) Validate() error {
	return q.pipe.validate()
}

// Validate checks that both queues are consistent with the membership index and that the
// pending queue is ordered by completion timestamp. Entries stamped zero by a rejected
// submission are exempt from the ordering check.
func (p *Pipe) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.validate()
}

func (p *Pipe) validate() error {
	if p.entries.Count() != p.submitQueue.Len()+p.pendingQueue.Len() {
		return errors.Newf("pipe has %d buffer objects in its index, but %d in its queues",
			p.entries.Count(), p.submitQueue.Len()+p.pendingQueue.Len())
	}

	for _, queue := range []*boQueue{&p.submitQueue, &p.pendingQueue} {
		count := 0
		var prev *queueEntry
		var lastTimestamp kernel.Timestamp

		for entry := queue.head; entry != nil; entry = entry.next {
			count++

			if entry.queue != queue {
				return errors.Newf("buffer object %d is threaded onto a queue it does not belong to", entry.bo.handle)
			}
			if entry.prev != prev {
				return errors.Newf("buffer object %d has a corrupt queue link", entry.bo.handle)
			}
			indexed, ok := p.entries.Get(entry.bo)
			if !ok || indexed != entry {
				return errors.Newf("buffer object %d is queued but not indexed", entry.bo.handle)
			}

			if queue == &p.pendingQueue {
				timestamp := entry.timestamp
				if timestamp != 0 && timestamp < lastTimestamp {
					return errors.Newf("buffer object %d is pending on timestamp %d after timestamp %d",
						entry.bo.handle, timestamp, lastTimestamp)
				}
				if timestamp != 0 {
					lastTimestamp = timestamp
				}
			}

			prev = entry
		}

		if prev != queue.tail {
			return errors.New("queue tail does not match its last entry")
		}
		if count != queue.Len() {
			return errors.Newf("queue reports %d entries but contains %d", queue.Len(), count)
		}
	}

	return nil
}

// PrintQueues writes the contents of the pipe's queues as a JSON object
func (p *Pipe) PrintQueues(writer *jwriter.Writer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	objState := writer.Object()
	defer objState.End()

	objState.Name("Kind").String(p.kind.String())
	objState.Name("Flags").String(p.flags.String())

	submitArray := objState.Name("Submit").Array()
	p.submitQueue.Each(func(bo *BufferObject) bool {
		submitArray.Int(int(bo.handle))
		return false
	})
	submitArray.End()

	pendingArray := objState.Name("Pending").Array()
	for entry := p.pendingQueue.head; entry != nil; entry = entry.next {
		o := pendingArray.Object()
		o.Name("Handle").Int(int(entry.bo.handle))
		o.Name("Timestamp").Float64(float64(entry.timestamp))
		o.End()
	}
	pendingArray.End()
}

// Destroy drops the pipe's reference to every queued buffer object, closes the kernel queue and
// releases the device. Buffer objects still in flight on the GPU are not waited for.
func (p *Pipe) Destroy() error {
	p.logger.Debug("Pipe::Destroy", slog.String("kind", p.kind.String()))

	var err error

	p.mutex.Lock()
	for _, queue := range []*boQueue{&p.submitQueue, &p.pendingQueue} {
		for entry := queue.head; entry != nil; {
			next := entry.next
			bo := entry.bo

			queue.remove(entry)
			p.entries.Delete(bo)
			bo.clearTimestamp(p.kind, entry.timestamp)

			releaseErr := bo.Release()
			if releaseErr != nil {
				err = errors.CombineErrors(err, releaseErr)
			}
			entry = next
		}
	}
	primary := p.primary
	p.primary = nil
	p.mutex.Unlock()

	if primary != nil {
		err = errors.CombineErrors(err, primary.Destroy())
	}

	closeErr := p.queue.Close()
	if closeErr != nil {
		err = errors.CombineErrors(err, errors.Wrapf(closeErr, "close %s queue", p.kind))
	}

	err = errors.CombineErrors(err, p.device.Release())
	return err
}
