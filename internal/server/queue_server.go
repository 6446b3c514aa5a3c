package server

import (
	"time"

	"github.com/fxnlabs/function-compute/internal/gpu"
	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/metrics"
	"github.com/fxnlabs/function-compute/internal/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultMaxTasks is the batch size at which tasks are submitted without an
// explicit sync.
const DefaultMaxTasks = 64

// Options configure a QueueServer.
type Options struct {
	// MaxTasks flushes the batch once it holds this many tasks.
	MaxTasks int
	// Device labels metrics and logs.
	Device string
}

// QueueServer batches tasks and submits them to a gpu.Queue.
//
// It is not safe for concurrent use; a channel serializes access to it.
type QueueServer struct {
	memory   memory.Management
	queue    gpu.Queue
	maxTasks int
	device   string

	batch    []gpu.Command
	retained []*memory.Handle

	logger *zap.Logger
}

// NewQueueServer creates a server over a memory manager and device queue.
func NewQueueServer(mm memory.Management, queue gpu.Queue, opts Options, logger *zap.Logger) *QueueServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxTasks < 1 {
		opts.MaxTasks = DefaultMaxTasks
	}
	return &QueueServer{
		memory:   mm,
		queue:    queue,
		maxTasks: opts.MaxTasks,
		device:   opts.Device,
		logger:   logger.Named("server").With(zap.String("device", opts.Device)),
	}
}

// Read flushes, waits and copies the handle's bytes.
func (s *QueueServer) Read(handle *memory.Handle) ([]byte, error) {
	res, err := s.memory.Get(handle)
	if err != nil {
		return nil, err
	}
	if err := s.Sync(); err != nil {
		return nil, err
	}
	out := make([]byte, res.Size)
	copy(out, res.Bytes())
	return out, nil
}

// Create reserves len(data) bytes and enqueues the copy-in. data may be reused
// by the caller as soon as Create returns.
func (s *QueueServer) Create(data []byte) (*memory.Handle, error) {
	handle, err := s.memory.Reserve(len(data))
	if err != nil {
		return nil, err
	}
	res, err := s.memory.Get(handle)
	if err != nil {
		_ = handle.Release()
		return nil, err
	}
	retained, err := handle.Clone()
	if err != nil {
		return nil, err
	}

	src := make([]byte, len(data))
	copy(src, data)
	s.enqueue(func() error {
		copy(res.Bytes(), src)
		return nil
	}, retained)
	return handle, nil
}

// Empty reserves size bytes. The contents are unspecified.
func (s *QueueServer) Empty(size int) (*memory.Handle, error) {
	return s.memory.Reserve(size)
}

// Execute enqueues kernel. The task keeps its own references to handles, so the
// caller may release them right away.
func (s *QueueServer) Execute(kernel Kernel, handles []*memory.Handle) error {
	resources, retained, err := s.bind(handles)
	if err != nil {
		return errors.Wrapf(err, "executing %s", kernel.Name())
	}

	metrics.KernelLaunches.WithLabelValues(s.device, kernel.Name()).Inc()
	name := kernel.Name()
	s.enqueue(func() error {
		if err := kernel.Launch(resources); err != nil {
			return errors.Wrapf(err, "kernel %s", name)
		}
		return nil
	}, retained...)
	return nil
}

// Sync flushes and waits for the device queue, then frees storage scheduled for
// deallocation.
func (s *QueueServer) Sync() error {
	s.flush()

	start := time.Now()
	err := s.queue.Wait()
	metrics.ServerSyncDuration.WithLabelValues(s.device).Observe(float64(time.Since(start).Microseconds()) / 1000)

	s.memory.Storage().PerformDeallocations()
	s.recordUsage()
	if err != nil {
		return errors.Wrap(err, "device queue")
	}
	return nil
}

// RunCustomCommand drains the queue and then runs f on the calling goroutine.
// Errors from f are returned unchanged.
func (s *QueueServer) RunCustomCommand(f CustomCommand, handles []*memory.Handle) error {
	if err := s.Sync(); err != nil {
		return err
	}

	resources := make([]storage.Resource, 0, len(handles))
	for _, h := range handles {
		res, err := s.memory.Get(h)
		if err != nil {
			return err
		}
		resources = append(resources, res)
	}
	return f(s, resources)
}

// State reports whether tasks are batched, in flight or neither.
func (s *QueueServer) State() State {
	if len(s.batch) > 0 {
		return Batching
	}
	if s.queue.Pending() > 0 {
		return Submitted
	}
	return Idle
}

// MemoryUsage reports manager and storage accounting.
func (s *QueueServer) MemoryUsage() MemoryUsage {
	return MemoryUsage{
		Usage:   s.memory.Usage(),
		Storage: s.memory.Storage().Usage(),
	}
}

// bind resolves handles to resources and takes a reference to each of them for
// the lifetime of a task.
func (s *QueueServer) bind(handles []*memory.Handle) ([]storage.Resource, []*memory.Handle, error) {
	resources := make([]storage.Resource, 0, len(handles))
	retained := make([]*memory.Handle, 0, len(handles))
	for _, h := range handles {
		res, err := s.memory.Get(h)
		if err == nil {
			var clone *memory.Handle
			clone, err = h.Clone()
			if err == nil {
				resources = append(resources, res)
				retained = append(retained, clone)
				continue
			}
		}
		for _, r := range retained {
			_ = r.Release()
		}
		return nil, nil, err
	}
	return resources, retained, nil
}

func (s *QueueServer) enqueue(cmd gpu.Command, retained ...*memory.Handle) {
	s.batch = append(s.batch, cmd)
	s.retained = append(s.retained, retained...)
	if len(s.batch) >= s.maxTasks {
		s.flush()
	}
}

// flush submits the batch followed by a command dropping the references its
// tasks hold, so memory is freed only after the device has used it.
func (s *QueueServer) flush() {
	if len(s.batch) == 0 {
		return
	}

	tasks := len(s.batch)
	batch := s.batch
	if len(s.retained) > 0 {
		retained := s.retained
		batch = append(batch, func() error {
			for _, h := range retained {
				_ = h.Release()
			}
			return nil
		})
	}
	s.queue.Submit(batch)
	s.batch = nil
	s.retained = nil

	metrics.ServerFlushes.WithLabelValues(s.device).Inc()
	metrics.ServerBatchSize.WithLabelValues(s.device).Observe(float64(tasks))
	s.logger.Debug("Submitted batch", zap.Int("tasks", tasks))
}

func (s *QueueServer) recordUsage() {
	u := s.memory.Usage()
	metrics.MemoryReservedBytes.WithLabelValues(s.device).Set(float64(u.Reserved))
	metrics.MemoryInUseBytes.WithLabelValues(s.device).Set(float64(u.InUse))
}
