package memory

import (
	"math"
	"sort"

	"github.com/fxnlabs/function-compute/internal/metrics"
	"github.com/fxnlabs/function-compute/internal/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var _ Management = (*SimpleMemoryManagement)(nil)

type chunk struct {
	handle   storage.Handle
	bindings []*binding // sorted by offset
}

func (c *chunk) size() int {
	return c.handle.Size()
}

func (c *chunk) free() bool {
	for _, b := range c.bindings {
		if b.live() {
			return false
		}
	}
	return true
}

func (c *chunk) prune() {
	live := c.bindings[:0]
	for _, b := range c.bindings {
		if b.live() {
			live = append(live, b)
		}
	}
	for i := len(live); i < len(c.bindings); i++ {
		c.bindings[i] = nil
	}
	c.bindings = live
}

type freeRange struct {
	offset int
	size   int
}

// gaps returns the free ranges between live bindings.
func (c *chunk) gaps() []freeRange {
	var out []freeRange
	cursor := 0
	for _, b := range c.bindings {
		if !b.live() {
			continue
		}
		if b.offset > cursor {
			out = append(out, freeRange{offset: cursor, size: b.offset - cursor})
		}
		cursor = max(cursor, b.end())
	}
	if cursor < c.size() {
		out = append(out, freeRange{offset: cursor, size: c.size() - cursor})
	}
	return out
}

func (c *chunk) bind(offset, size int) *binding {
	b := &binding{chunk: c.handle.ID, offset: offset, size: size}
	idx := sort.Search(len(c.bindings), func(i int) bool { return c.bindings[i].offset >= offset })
	c.bindings = append(c.bindings, nil)
	copy(c.bindings[idx+1:], c.bindings[idx:])
	c.bindings[idx] = b
	return b
}

// SimpleMemoryManagement keeps one chunk per storage region and carves
// reservations out of free ranges according to its slice strategy.
//
// It is not safe for concurrent use: a single server owns it. Handle reference
// counts are atomic, so references may be released from any goroutine.
type SimpleMemoryManagement struct {
	storage storage.Storage
	chunks  map[storage.ID]*chunk
	order   []storage.ID
	dealloc DeallocStrategy
	slice   SliceStrategy
	logger  *zap.Logger
}

// NewSimpleMemoryManagement creates a manager over the given storage.
func NewSimpleMemoryManagement(s storage.Storage, dealloc DeallocStrategy, slice SliceStrategy, logger *zap.Logger) *SimpleMemoryManagement {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimpleMemoryManagement{
		storage: s,
		chunks:  make(map[storage.ID]*chunk),
		dealloc: dealloc,
		slice:   slice,
		logger:  logger.Named("memory"),
	}
}

// Reserve returns a handle over size bytes. An entirely free chunk of the
// exact size is reused first, then the free range with the least waste that
// the slice strategy accepts, and only then a new chunk is allocated.
func (m *SimpleMemoryManagement) Reserve(size int) (*Handle, error) {
	if size < 0 {
		return nil, errors.Errorf("invalid reservation size %d", size)
	}
	if m.dealloc.ShouldDealloc() {
		m.cleanupChunks()
	}
	m.cleanupBindings()

	if c, offset, ok := m.findFreeRange(size); ok {
		b := c.bind(offset, size)
		return newHandle(b, offset, size), nil
	}
	return m.createChunk(size)
}

// Alloc allocates a dedicated chunk of size bytes.
func (m *SimpleMemoryManagement) Alloc(size int) (*Handle, error) {
	if size < 0 {
		return nil, errors.Errorf("invalid allocation size %d", size)
	}
	return m.createChunk(size)
}

// Get resolves a live handle to its storage resource.
func (m *SimpleMemoryManagement) Get(handle *Handle) (storage.Resource, error) {
	if handle == nil {
		return storage.Resource{}, errors.New("nil handle")
	}
	if handle.Released() {
		return storage.Resource{}, ErrHandleReleased
	}
	if _, ok := m.chunks[handle.Region()]; !ok {
		return storage.Resource{}, errors.Errorf("handle region %s is not managed here", handle.Region())
	}
	return m.storage.Get(handle.storageHandle())
}

// Release drops one reference. The range is free for new reservations as soon
// as the last reference is gone; the chunk is returned to storage on a later
// dealloc tick.
func (m *SimpleMemoryManagement) Release(handle *Handle) error {
	return handle.Release()
}

// Storage returns the underlying allocator.
func (m *SimpleMemoryManagement) Storage() storage.Storage {
	return m.storage
}

// Usage summarizes chunks and live bindings.
func (m *SimpleMemoryManagement) Usage() Usage {
	var u Usage
	for _, c := range m.chunks {
		u.Chunks++
		u.Reserved += c.size()
		for _, b := range c.bindings {
			if b.live() {
				u.Bindings++
				u.InUse += b.size
			}
		}
	}
	return u
}

func (m *SimpleMemoryManagement) findFreeRange(size int) (*chunk, int, bool) {
	var (
		best       *chunk
		bestOffset int
		bestWaste  = math.MaxInt
	)
	for _, id := range m.order {
		c := m.chunks[id]
		if c.size() == size && c.free() {
			return c, 0, true
		}
		for _, g := range c.gaps() {
			if !m.slice.CanUse(g.size, size) {
				continue
			}
			if waste := g.size - size; waste < bestWaste {
				best, bestOffset, bestWaste = c, g.offset, waste
			}
		}
	}
	return best, bestOffset, best != nil
}

func (m *SimpleMemoryManagement) createChunk(size int) (*Handle, error) {
	sh, err := m.storage.Alloc(size)
	if errors.Is(err, storage.ErrOutOfMemory) {
		// Chunks scheduled by cleanupChunks have no references left, so no
		// queued task can still touch them.
		if freed := m.storage.PerformDeallocations(); freed > 0 {
			m.logger.Debug("Reclaimed scheduled chunks to satisfy allocation", zap.Int("count", freed), zap.Int("size", size))
			sh, err = m.storage.Alloc(size)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "allocating chunk of %d bytes", size)
	}
	c := &chunk{handle: sh}
	m.chunks[sh.ID] = c
	m.order = append(m.order, sh.ID)
	metrics.MemoryChunkAllocations.Inc()

	m.logger.Debug("Allocated chunk", zap.String("id", string(sh.ID)), zap.Int("size", size))
	b := c.bind(0, size)
	return newHandle(b, 0, size), nil
}

func (m *SimpleMemoryManagement) cleanupBindings() {
	for _, c := range m.chunks {
		c.prune()
	}
}

// cleanupChunks hands chunks without live bindings back to storage.
func (m *SimpleMemoryManagement) cleanupChunks() {
	kept := m.order[:0]
	reclaimed := 0
	for _, id := range m.order {
		c := m.chunks[id]
		if !c.free() {
			kept = append(kept, id)
			continue
		}
		m.storage.Dealloc(id)
		delete(m.chunks, id)
		reclaimed++
	}
	m.order = kept
	if reclaimed > 0 {
		metrics.MemoryChunksReclaimed.Add(float64(reclaimed))
		m.logger.Debug("Scheduled free chunks for reclamation", zap.Int("count", reclaimed))
	}
}
