package memory

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/fxnlabs/function-compute/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManager(capacity int, dealloc DeallocStrategy, slice SliceStrategy) (*SimpleMemoryManagement, *storage.BytesStorage) {
	s := storage.NewBytesStorage(capacity, zap.NewNop())
	return NewSimpleMemoryManagement(s, dealloc, slice, zap.NewNop()), s
}

func TestReserve_ReusesFreeChunk(t *testing.T) {
	m, _ := newManager(0, NeverDealloc(), NeverSlice())

	h1, err := m.Reserve(64)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h1.RefCount())
	region := h1.Region()
	require.NoError(t, m.Release(h1))

	h2, err := m.Reserve(64)
	require.NoError(t, err)
	assert.Equal(t, region, h2.Region())

	// With no slicing, a smaller request cannot use a larger free chunk.
	require.NoError(t, h2.Release())
	h3, err := m.Reserve(32)
	require.NoError(t, err)
	assert.NotEqual(t, region, h3.Region())
	assert.Equal(t, 2, m.Usage().Chunks)
}

func TestReserve_SliceRatio(t *testing.T) {
	m, _ := newManager(0, NeverDealloc(), SliceRatio(0.8))

	h, err := m.Reserve(100)
	require.NoError(t, err)
	region := h.Region()
	require.NoError(t, h.Release())

	t.Run("small request allocates a new chunk", func(t *testing.T) {
		small, err := m.Reserve(70)
		require.NoError(t, err)
		defer small.Release()
		assert.NotEqual(t, region, small.Region())
	})

	t.Run("close request is sliced", func(t *testing.T) {
		sliced, err := m.Reserve(90)
		require.NoError(t, err)
		defer sliced.Release()
		assert.Equal(t, region, sliced.Region())
		assert.Equal(t, 0, sliced.Offset())
		assert.Equal(t, 90, sliced.Size())
	})
}

func TestReserve_MultipleSlicesPerChunk(t *testing.T) {
	m, _ := newManager(0, NeverDealloc(), SliceMaximumSize(1<<20))

	h, err := m.Reserve(100)
	require.NoError(t, err)
	region := h.Region()
	require.NoError(t, h.Release())

	var parts []*Handle
	for i := 0; i < 3; i++ {
		p, err := m.Reserve(30)
		require.NoError(t, err)
		assert.Equal(t, region, p.Region())
		parts = append(parts, p)
	}
	assert.Equal(t, 0, parts[0].Offset())
	assert.Equal(t, 30, parts[1].Offset())
	assert.Equal(t, 60, parts[2].Offset())

	require.NoError(t, parts[1].Release())
	p, err := m.Reserve(30)
	require.NoError(t, err)
	assert.Equal(t, region, p.Region())
	assert.Equal(t, 30, p.Offset())

	usage := m.Usage()
	assert.Equal(t, 1, usage.Chunks)
	assert.Equal(t, 3, usage.Bindings)
	assert.Equal(t, 90, usage.InUse)
	assert.Equal(t, 100, usage.Reserved)
}

func TestHandle_SliceKeepsParentAlive(t *testing.T) {
	m, _ := newManager(0, PeriodTick(1), SliceRatio(0.8))

	h1, err := m.Reserve(64)
	require.NoError(t, err)
	res, err := m.Get(h1)
	require.NoError(t, err)
	for i := range res.Bytes() {
		res.Bytes()[i] = byte(i)
	}

	h2, err := h1.Slice(16, 16)
	require.NoError(t, err)
	assert.Equal(t, int64(2), h1.RefCount())

	sub, err := m.Get(h2)
	require.NoError(t, err)
	assert.Equal(t, byte(16), sub.Bytes()[0])

	require.NoError(t, h2.Release())
	assert.Equal(t, int64(1), h1.RefCount())

	// The parent range stays valid and is not handed out again.
	other, err := m.Reserve(64)
	require.NoError(t, err)
	assert.NotEqual(t, h1.Region(), other.Region())

	res, err = m.Get(h1)
	require.NoError(t, err)
	assert.Equal(t, byte(63), res.Bytes()[63])

	_, err = m.Get(h2)
	assert.True(t, errors.Is(err, ErrHandleReleased))
}

func TestHandle_CloneAndRelease(t *testing.T) {
	m, _ := newManager(0, NeverDealloc(), NeverSlice())

	h, err := m.Reserve(32)
	require.NoError(t, err)
	c, err := h.Clone()
	require.NoError(t, err)
	require.NoError(t, h.Release())

	t.Run("double release", func(t *testing.T) {
		assert.True(t, errors.Is(h.Release(), ErrHandleReleased))
		assert.Equal(t, int64(1), c.RefCount())
	})

	t.Run("released handle cannot derive", func(t *testing.T) {
		_, err := h.Clone()
		assert.ErrorIs(t, err, ErrHandleReleased)
		_, err = h.Slice(0, 1)
		assert.ErrorIs(t, err, ErrHandleReleased)
	})

	t.Run("clone keeps range reserved", func(t *testing.T) {
		other, err := m.Reserve(32)
		require.NoError(t, err)
		assert.NotEqual(t, c.Region(), other.Region())
		require.NoError(t, other.Release())
	})

	t.Run("slice out of range", func(t *testing.T) {
		_, err := c.Slice(16, 17)
		assert.Error(t, err)
	})

	require.NoError(t, c.Release())
	again, err := m.Reserve(32)
	require.NoError(t, err)
	assert.Equal(t, c.Region(), again.Region())
}

func TestReserve_PeriodTickReclaims(t *testing.T) {
	m, s := newManager(0, PeriodTick(1), SliceRatio(0.8))

	h, err := m.Reserve(32)
	require.NoError(t, err)
	region := h.Region()
	require.NoError(t, h.Release())

	// The tick fires before the search, so the free chunk is reclaimed instead of reused.
	h2, err := m.Reserve(32)
	require.NoError(t, err)
	assert.NotEqual(t, region, h2.Region())
	assert.Equal(t, 32, s.Usage().PendingFree)

	assert.Equal(t, 1, s.PerformDeallocations())
	assert.Equal(t, 32, s.Usage().Allocated)
	assert.Equal(t, 1, m.Usage().Chunks)
}

func TestReserve_OutOfMemory(t *testing.T) {
	m, _ := newManager(64, NeverDealloc(), NeverSlice())

	_, err := m.Reserve(48)
	require.NoError(t, err)

	h, err := m.Reserve(32)
	require.Error(t, err)
	assert.Nil(t, h)
	assert.True(t, errors.Is(err, storage.ErrOutOfMemory))

	usage := m.Usage()
	assert.Equal(t, 1, usage.Chunks)
	assert.Equal(t, 1, usage.Bindings)
}

func TestReserve_ReclaimedChunkFreesCapacity(t *testing.T) {
	m, s := newManager(1024, PeriodTick(2), SliceRatio(0.8))

	h, err := m.Reserve(1024)
	require.NoError(t, err)
	require.NoError(t, m.Release(h))

	// The tick fires here and schedules the free 1024-byte chunk.
	h, err = m.Reserve(1000)
	require.NoError(t, err)
	assert.Equal(t, 1000, h.Size())

	usage := m.Usage()
	assert.Equal(t, 1, usage.Chunks)
	assert.Equal(t, 1000, usage.Reserved)
	assert.Equal(t, 1000, s.Usage().Allocated)
}

func TestGet_ForeignHandle(t *testing.T) {
	m1, _ := newManager(0, NeverDealloc(), NeverSlice())
	m2, _ := newManager(0, NeverDealloc(), NeverSlice())

	h, err := m1.Reserve(8)
	require.NoError(t, err)
	_, err = m2.Get(h)
	assert.Error(t, err)

	_, err = m1.Reserve(-1)
	assert.Error(t, err)
}

// Random create/release sequences never produce overlapping live ranges and
// never account more live bytes than allocated storage.
func TestReserve_RandomSequencesNeverOverlap(t *testing.T) {
	strategies := map[string]SliceStrategy{
		"never":   NeverSlice(),
		"ratio":   SliceRatio(0.5),
		"maximum": SliceMaximumSize(512),
	}

	for name, slice := range strategies {
		t.Run(name, func(t *testing.T) {
			m, s := newManager(0, PeriodTick(7), slice)
			rng := rand.New(rand.NewSource(42))
			var live []*Handle

			for step := 0; step < 2000; step++ {
				switch {
				case len(live) > 0 && rng.Intn(3) == 0:
					idx := rng.Intn(len(live))
					require.NoError(t, live[idx].Release())
					live = append(live[:idx], live[idx+1:]...)
				case len(live) > 0 && rng.Intn(5) == 0:
					parent := live[rng.Intn(len(live))]
					if parent.Size() < 2 {
						continue
					}
					sl, err := parent.Slice(1, parent.Size()/2)
					require.NoError(t, err)
					// Aliases share the parent's range, they are released right away.
					require.NoError(t, sl.Release())
				default:
					h, err := m.Reserve(1 + rng.Intn(256))
					require.NoError(t, err)
					live = append(live, h)
				}

				assertNoOverlap(t, live)
				usage := m.Usage()
				require.LessOrEqual(t, usage.InUse, usage.Reserved)
				require.LessOrEqual(t, usage.Reserved, s.Usage().Allocated)
			}
		})
	}
}

func assertNoOverlap(t *testing.T, live []*Handle) {
	t.Helper()
	byRegion := make(map[storage.ID][]*Handle)
	for _, h := range live {
		byRegion[h.Region()] = append(byRegion[h.Region()], h)
	}
	for region, hs := range byRegion {
		sort.Slice(hs, func(i, j int) bool { return hs[i].Offset() < hs[j].Offset() })
		for i := 1; i < len(hs); i++ {
			prev, cur := hs[i-1], hs[i]
			require.LessOrEqualf(t, prev.Offset()+prev.Size(), cur.Offset(),
				"overlap in region %s: [%d,%d) and [%d,%d)", region,
				prev.Offset(), prev.Offset()+prev.Size(), cur.Offset(), cur.Offset()+cur.Size())
		}
	}
}
