package storage

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BytesStorage keeps regions in host memory. It backs the CPU device.
type BytesStorage struct {
	mu        sync.Mutex
	memory    map[ID][]byte
	pending   []ID
	capacity  int
	allocated int
	logger    *zap.Logger
}

// NewBytesStorage creates a host storage. A capacity of zero means unbounded.
func NewBytesStorage(capacity int, logger *zap.Logger) *BytesStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BytesStorage{
		memory:   make(map[ID][]byte),
		capacity: capacity,
		logger:   logger.Named("bytes_storage"),
	}
}

// Alloc allocates a zeroed region of size bytes.
func (s *BytesStorage) Alloc(size int) (Handle, error) {
	if size < 0 {
		return Handle{}, errors.Errorf("invalid allocation size %d", size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity > 0 && s.allocated+size > s.capacity {
		return Handle{}, errors.Wrapf(ErrOutOfMemory, "need %d bytes, available %d", size, s.capacity-s.allocated)
	}

	id := NewID()
	s.memory[id] = make([]byte, size)
	s.allocated += size
	return Handle{ID: id, Utilization: Utilization{Offset: 0, Size: size}}, nil
}

// Get resolves a handle to the region bytes it covers.
func (s *BytesStorage) Get(handle Handle) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.memory[handle.ID]
	if !ok {
		return Resource{}, errors.Errorf("storage region %s not found", handle.ID)
	}
	if handle.Offset < 0 || handle.Offset+handle.Size() > len(buf) {
		return Resource{}, errors.Errorf("range [%d, %d) out of bounds for region %s of %d bytes",
			handle.Offset, handle.Offset+handle.Size(), handle.ID, len(buf))
	}
	return NewResource(handle.ID, buf, handle.Offset, handle.Size()), nil
}

// Dealloc schedules the region for reclamation.
func (s *BytesStorage) Dealloc(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, id)
}

// PerformDeallocations frees every scheduled region and returns how many were freed.
func (s *BytesStorage) PerformDeallocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	freed := 0
	for _, id := range s.pending {
		buf, ok := s.memory[id]
		if !ok {
			continue
		}
		delete(s.memory, id)
		s.allocated -= len(buf)
		freed++
	}
	s.pending = s.pending[:0]
	if freed > 0 {
		s.logger.Debug("Reclaimed storage regions", zap.Int("count", freed), zap.Int("allocated_bytes", s.allocated))
	}
	return freed
}

// Usage reports the current accounting.
func (s *BytesStorage) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, id := range s.pending {
		pending += len(s.memory[id])
	}
	return Usage{
		Regions:     len(s.memory),
		Allocated:   s.allocated,
		PendingFree: pending,
		Capacity:    s.capacity,
	}
}
