package server

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fxnlabs/function-compute/internal/gpu"
	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type funcKernel struct {
	name   string
	launch func(resources []storage.Resource) error
}

func (k funcKernel) Name() string { return k.name }

func (k funcKernel) Launch(resources []storage.Resource) error { return k.launch(resources) }

func noopKernel() Kernel {
	return funcKernel{name: "noop", launch: func([]storage.Resource) error { return nil }}
}

func fillKernel(v byte) Kernel {
	return funcKernel{name: "fill", launch: func(res []storage.Resource) error {
		b := res[0].Bytes()
		for i := range b {
			b[i] = v
		}
		return nil
	}}
}

func incrementKernel() Kernel {
	return funcKernel{name: "increment", launch: func(res []storage.Resource) error {
		b := res[0].Bytes()
		for i := range b {
			b[i]++
		}
		return nil
	}}
}

func newTestServer(t *testing.T, maxTasks int) *QueueServer {
	t.Helper()
	logger := zap.NewNop()
	mm := memory.NewSimpleMemoryManagement(
		storage.NewBytesStorage(0, logger),
		memory.PeriodTick(2*maxTasks),
		memory.SliceRatio(0.8),
		logger,
	)
	queue := gpu.NewHostQueue(logger)
	t.Cleanup(queue.Close)
	return NewQueueServer(mm, queue, Options{MaxTasks: maxTasks, Device: "test"}, logger)
}

func TestQueueServer_CreateReadRoundTrip(t *testing.T) {
	srv := newTestServer(t, 8)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"small", []byte{1, 2, 3}},
		{"large", bytes.Repeat([]byte{0xAB, 0xCD}, 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := srv.Create(tt.data)
			require.NoError(t, err)
			got, err := srv.Read(h)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
			assert.True(t, bytes.Equal(tt.data, got))
			require.NoError(t, h.Release())
		})
	}
}

func TestQueueServer_CreateCopiesCallerData(t *testing.T) {
	srv := newTestServer(t, 8)

	data := []byte{1, 2, 3, 4}
	h, err := srv.Create(data)
	require.NoError(t, err)
	data[0] = 99

	got, err := srv.Read(h)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestQueueServer_NoopScenario(t *testing.T) {
	srv := newTestServer(t, 64)

	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	h, err := srv.Create(data)
	require.NoError(t, err)

	require.NoError(t, srv.Execute(noopKernel(), []*memory.Handle{h}))
	assert.Equal(t, Batching, srv.State())

	got, err := srv.Read(h)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, Idle, srv.State())
}

func TestQueueServer_ProgramOrder(t *testing.T) {
	srv := newTestServer(t, 3)

	h, err := srv.Empty(16)
	require.NoError(t, err)

	require.NoError(t, srv.Execute(fillKernel(1), []*memory.Handle{h}))
	for i := 0; i < 10; i++ {
		require.NoError(t, srv.Execute(incrementKernel(), []*memory.Handle{h}))
	}

	got, err := srv.Read(h)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{11}, 16), got)
}

func TestQueueServer_FlushesAtMaxTasks(t *testing.T) {
	srv := newTestServer(t, 4)

	release := make(chan struct{})
	blocking := funcKernel{name: "blocking", launch: func([]storage.Resource) error {
		<-release
		return nil
	}}
	h, err := srv.Empty(4)
	require.NoError(t, err)

	assert.Equal(t, Idle, srv.State())
	for i := 0; i < 3; i++ {
		require.NoError(t, srv.Execute(blocking, []*memory.Handle{h}))
		assert.Equal(t, Batching, srv.State())
	}

	require.NoError(t, srv.Execute(blocking, []*memory.Handle{h}))
	assert.Equal(t, Submitted, srv.State())

	close(release)
	require.NoError(t, srv.Sync())
	assert.Equal(t, Idle, srv.State())
}

func TestQueueServer_TasksRetainHandles(t *testing.T) {
	srv := newTestServer(t, 64)

	h, err := srv.Create([]byte{7, 7, 7, 7})
	require.NoError(t, err)
	out, err := srv.Empty(4)
	require.NoError(t, err)

	copyKernel := funcKernel{name: "copy", launch: func(res []storage.Resource) error {
		copy(res[1].Bytes(), res[0].Bytes())
		return nil
	}}
	require.NoError(t, srv.Execute(copyKernel, []*memory.Handle{h, out}))
	assert.Equal(t, int64(3), h.RefCount(), "caller, create task and kernel task")

	require.NoError(t, h.Release())
	assert.Equal(t, int64(2), h.RefCount())

	// The released input must not be handed out while the task is queued.
	other, err := srv.Empty(4)
	require.NoError(t, err)
	assert.NotEqual(t, h.Region(), other.Region())

	got, err := srv.Read(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 7, 7, 7}, got)
	assert.Equal(t, int64(0), h.RefCount())
}

func TestQueueServer_ExecuteReleasedHandle(t *testing.T) {
	srv := newTestServer(t, 8)

	h, err := srv.Empty(8)
	require.NoError(t, err)
	live, err := srv.Empty(8)
	require.NoError(t, err)
	require.NoError(t, h.Release())

	err = srv.Execute(noopKernel(), []*memory.Handle{live, h})
	assert.ErrorIs(t, err, memory.ErrHandleReleased)
	assert.Equal(t, int64(1), live.RefCount(), "partial bindings are undone")
	assert.Equal(t, Idle, srv.State())

	_, err = srv.Read(h)
	assert.ErrorIs(t, err, memory.ErrHandleReleased)
}

func TestQueueServer_KernelErrorSurfacesAtSync(t *testing.T) {
	srv := newTestServer(t, 8)

	boom := errors.New("boom")
	failing := funcKernel{name: "failing", launch: func([]storage.Resource) error { return boom }}
	h, err := srv.Empty(4)
	require.NoError(t, err)

	require.NoError(t, srv.Execute(failing, []*memory.Handle{h}))
	err = srv.Sync()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing")

	assert.NoError(t, srv.Sync())
}

func TestQueueServer_RunCustomCommand(t *testing.T) {
	srv := newTestServer(t, 8)

	h, err := srv.Create([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, srv.Execute(incrementKernel(), []*memory.Handle{h}))

	var seen []byte
	err = srv.RunCustomCommand(func(s Server, res []storage.Resource) error {
		assert.Equal(t, Idle, s.State(), "earlier work has completed")
		seen = append(seen, res[0].Bytes()...)
		return nil
	}, []*memory.Handle{h})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3, 4}, seen)

	custom := errors.New("custom failure")
	err = srv.RunCustomCommand(func(Server, []storage.Resource) error { return custom }, nil)
	assert.Equal(t, custom, err)
}

func TestQueueServer_MemoryUsage(t *testing.T) {
	srv := newTestServer(t, 8)

	a, err := srv.Empty(100)
	require.NoError(t, err)
	_, err = srv.Empty(50)
	require.NoError(t, err)

	u := srv.MemoryUsage()
	assert.Equal(t, 2, u.Chunks)
	assert.Equal(t, 150, u.InUse)
	assert.Equal(t, 150, u.Storage.Allocated)

	require.NoError(t, a.Release())
	require.NoError(t, srv.Sync())
	u = srv.MemoryUsage()
	assert.Equal(t, 50, u.InUse)
	assert.Equal(t, 150, u.Reserved)
}
