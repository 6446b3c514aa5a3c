package channel

import (
	"sync"

	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/server"
	"github.com/pkg/errors"
)

// ErrClosed is returned by calls on a closed worker channel.
var ErrClosed = errors.New("channel closed")

type message struct {
	run  func(srv server.Server)
	done chan struct{}
	// panicked holds a value recovered from run, re-raised on the caller.
	panicked any
}

// WorkerChannel owns its server on a dedicated goroutine. Calls are sent as
// messages and served in arrival order.
type WorkerChannel struct {
	messages chan *message
	quit     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewWorkerChannel starts the worker goroutine for srv.
func NewWorkerChannel(srv server.Server) *WorkerChannel {
	c := &WorkerChannel{
		messages: make(chan *message),
		quit:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop(srv)
	return c
}

func (c *WorkerChannel) loop(srv server.Server) {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.messages:
			c.serve(srv, msg)
		case <-c.quit:
			return
		}
	}
}

func (c *WorkerChannel) serve(srv server.Server, msg *message) {
	defer close(msg.done)
	defer func() {
		msg.panicked = recover()
	}()
	msg.run(srv)
}

// call blocks until the worker has run fn. It reports false if the channel is
// closed. A panic in fn is raised again on the calling goroutine.
func (c *WorkerChannel) call(fn func(srv server.Server)) bool {
	msg := &message{run: fn, done: make(chan struct{})}
	select {
	case c.messages <- msg:
	case <-c.quit:
		return false
	}
	<-msg.done
	if msg.panicked != nil {
		panic(msg.panicked)
	}
	return true
}

func (c *WorkerChannel) Read(handle *memory.Handle) (out []byte, err error) {
	if !c.call(func(srv server.Server) { out, err = srv.Read(handle) }) {
		return nil, ErrClosed
	}
	return out, err
}

func (c *WorkerChannel) Create(data []byte) (h *memory.Handle, err error) {
	if !c.call(func(srv server.Server) { h, err = srv.Create(data) }) {
		return nil, ErrClosed
	}
	return h, err
}

func (c *WorkerChannel) Empty(size int) (h *memory.Handle, err error) {
	if !c.call(func(srv server.Server) { h, err = srv.Empty(size) }) {
		return nil, ErrClosed
	}
	return h, err
}

func (c *WorkerChannel) Execute(kernel server.Kernel, handles []*memory.Handle) (err error) {
	if !c.call(func(srv server.Server) { err = srv.Execute(kernel, handles) }) {
		return ErrClosed
	}
	return err
}

func (c *WorkerChannel) Sync() (err error) {
	if !c.call(func(srv server.Server) { err = srv.Sync() }) {
		return ErrClosed
	}
	return err
}

func (c *WorkerChannel) RunCustomCommand(f server.CustomCommand, handles []*memory.Handle) (err error) {
	if !c.call(func(srv server.Server) { err = srv.RunCustomCommand(f, handles) }) {
		return ErrClosed
	}
	return err
}

func (c *WorkerChannel) State() (state server.State) {
	c.call(func(srv server.Server) { state = srv.State() })
	return state
}

func (c *WorkerChannel) MemoryUsage() (usage server.MemoryUsage) {
	c.call(func(srv server.Server) { usage = srv.MemoryUsage() })
	return usage
}

// Close stops the worker after the call in progress, if any.
func (c *WorkerChannel) Close() {
	c.once.Do(func() {
		close(c.quit)
	})
	c.wg.Wait()
}
