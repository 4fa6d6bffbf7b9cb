package fimg

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/openfimg/fimg/internal/utils"
	"github.com/openfimg/fimg/kernel"
	"golang.org/x/exp/slog"
)

// PipeKind identifies the engine a Pipe submits to
type PipeKind int32

const (
	// PipeKind3D is the primary engine. Other kinds wait on it before consuming buffers it produced.
	PipeKind3D PipeKind = iota
	// PipeKind2D is the auxiliary 2D engine
	PipeKind2D

	pipeKindCount
)

var pipeKindMapping = map[PipeKind]string{
	PipeKind3D: "PipeKind3D",
	PipeKind2D: "PipeKind2D",
}

func (k PipeKind) String() string {
	str, ok := pipeKindMapping[k]
	if !ok {
		return "unknown"
	}
	return str
}

func (k PipeKind) engine() kernel.Engine {
	switch k {
	case PipeKind2D:
		return kernel.Engine2D
	default:
		return kernel.Engine3D
	}
}

// PipeCreateFlags indicate specific pipe behaviors to activate or deactivate
type PipeCreateFlags int32

var pipeCreateFlagsMapping = utils.NewFlagStringMapping[PipeCreateFlags]()

func (f PipeCreateFlags) Register(str string) {
	pipeCreateFlagsMapping.Register(f, str)
}
func (f PipeCreateFlags) String() string {
	return pipeCreateFlagsMapping.FlagsToString(f)
}

const (
	// PipeCreateSynchronized makes the pipe's submission and retirement bookkeeping safe to call
	// from several goroutines. Without it, the consumer must serialize every call on the pipe and
	// on its ring buffers.
	PipeCreateSynchronized PipeCreateFlags = 1 << iota
)

func init() {
	PipeCreateSynchronized.Register("PipeCreateSynchronized")
}

const defaultPollInterval = time.Millisecond

// PipeCreateOptions contains optional settings when creating a pipe
type PipeCreateOptions struct {
	Flags PipeCreateFlags
	// DependencyWaitTimeout bounds how long a flush on an auxiliary pipe waits for the primary
	// pipe to finish the buffers it references. Zero waits indefinitely.
	DependencyWaitTimeout time.Duration
	// PollInterval is the delay between completed-timestamp queries when the kernel has no
	// blocking wait. Zero selects one millisecond.
	PollInterval time.Duration
}

func (d *Device) createPipe(kind PipeKind, options PipeCreateOptions) (*Pipe, error) {
	d.logger.Debug("Device::CreatePipe",
		slog.String("kind", kind.String()),
		slog.String("flags", options.Flags.String()))

	if kind < 0 || kind >= pipeKindCount {
		return nil, errors.Newf("unknown pipe kind %d", kind)
	}

	queue, err := d.kernel.OpenQueue(kind.engine())
	if err != nil {
		d.logger.Error("failed to open pipe queue",
			slog.String("kind", kind.String()),
			slog.Any("error", err))
		return nil, errors.Wrapf(err, "open %s queue", kind)
	}

	pollInterval := options.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Pipe{
		device: d.Ref(),
		logger: d.logger,
		kind:   kind,
		flags:  options.Flags,
		queue:  queue,
		mutex: utils.OptionalMutex{
			UseMutex: options.Flags&PipeCreateSynchronized != 0,
		},
		entries:               swiss.NewMap[*BufferObject, *queueEntry](16),
		pollInterval:          pollInterval,
		dependencyWaitTimeout: options.DependencyWaitTimeout,
	}, nil
}
