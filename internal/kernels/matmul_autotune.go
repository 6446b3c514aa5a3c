package kernels

import (
	"math/bits"

	"github.com/fxnlabs/function-compute/internal/client"
	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/server"
	"github.com/fxnlabs/function-compute/internal/tune"
	"github.com/pkg/errors"
)

// MatmulKey is the autotune key of a matmul. Dimensions are rounded up to the
// next power of two so that nearby shapes share a winner.
type MatmulKey struct {
	MatmulShape
}

// NewMatmulKey anchors shape.
func NewMatmulKey(shape MatmulShape) MatmulKey {
	return MatmulKey{MatmulShape{M: anchor(shape.M), K: anchor(shape.K), N: anchor(shape.N)}}
}

func (k MatmulKey) String() string {
	return "matmul_f32_" + k.MatmulShape.String()
}

func anchor(x int) int {
	if x <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(x-1))
}

// DefaultTiles are the tile sizes benchmarked by MatmulOperationSet.
var DefaultTiles = []int{16, 32, 64}

// kernelOperation launches a kernel through a client.
type kernelOperation struct {
	client  *client.ComputeClient
	kernel  server.Kernel
	handles []*memory.Handle
}

func (o kernelOperation) Name() string { return o.kernel.Name() }

func (o kernelOperation) Execute() error {
	return o.client.Execute(o.kernel, o.handles)
}

// MatmulOperationSet autotunes C = A * B over the naive, tiled and BLAS
// kernels. Benchmark runs write to a scratch output so C only receives the
// production run.
type MatmulOperationSet struct {
	client  *client.ComputeClient
	shape   MatmulShape
	lhs     *memory.Handle
	rhs     *memory.Handle
	out     *memory.Handle
	scratch *memory.Handle
	tiles   []int
}

// NewMatmulOperationSet validates the handles against shape.
func NewMatmulOperationSet(c *client.ComputeClient, shape MatmulShape, lhs, rhs, out *memory.Handle) (*MatmulOperationSet, error) {
	aSize, bSize, cSize := shape.Bytes()
	if lhs.Size() != aSize || rhs.Size() != bSize || out.Size() != cSize {
		return nil, errors.Errorf("matmul %s: buffers of %d, %d, %d bytes, want %d, %d, %d",
			shape, lhs.Size(), rhs.Size(), out.Size(), aSize, bSize, cSize)
	}
	return &MatmulOperationSet{
		client: c,
		shape:  shape,
		lhs:    lhs,
		rhs:    rhs,
		out:    out,
		tiles:  DefaultTiles,
	}, nil
}

func (s *MatmulOperationSet) kernels() []server.Kernel {
	ks := []server.Kernel{MatmulNaive{Shape: s.shape}}
	for _, t := range s.tiles {
		ks = append(ks, MatmulTiled{Shape: s.shape, Tile: t})
	}
	return append(ks, MatmulBlas{Shape: s.shape})
}

// VariantNames lists the variants in index order.
func (s *MatmulOperationSet) VariantNames() []string {
	ks := s.kernels()
	names := make([]string, len(ks))
	for i, k := range ks {
		names[i] = k.Name()
	}
	return names
}

func (s *MatmulOperationSet) Key() tune.Key {
	return NewMatmulKey(s.shape)
}

// Autotunables reserves the scratch output on first use. Release frees it.
func (s *MatmulOperationSet) Autotunables() []tune.Operation {
	if s.scratch == nil {
		scratch, err := s.client.Empty(s.out.Size())
		if err != nil {
			return []tune.Operation{failedOperation{err: err}}
		}
		s.scratch = scratch
	}

	handles := []*memory.Handle{s.lhs, s.rhs, s.scratch}
	ks := s.kernels()
	ops := make([]tune.Operation, len(ks))
	for i, k := range ks {
		ops[i] = kernelOperation{client: s.client, kernel: k, handles: handles}
	}
	return ops
}

func (s *MatmulOperationSet) Fastest(index int) tune.Operation {
	ks := s.kernels()
	if index < 0 || index >= len(ks) {
		return nil
	}
	return kernelOperation{client: s.client, kernel: ks[index], handles: []*memory.Handle{s.lhs, s.rhs, s.out}}
}

// FallbackIndex is the naive kernel.
func (s *MatmulOperationSet) FallbackIndex() int { return 0 }

// Release frees the scratch output, if one was reserved.
func (s *MatmulOperationSet) Release() error {
	if s.scratch == nil {
		return nil
	}
	err := s.scratch.Release()
	s.scratch = nil
	return err
}

// failedOperation reports an error that prevented building the variants.
type failedOperation struct {
	err error
}

func (o failedOperation) Name() string { return "unavailable" }

func (o failedOperation) Execute() error { return errors.Wrap(o.err, "operation unavailable") }

// Matmul uploads a and b, autotunes the product on c and returns the result.
func Matmul(c *client.ComputeClient, a, b []float32, shape MatmulShape) ([]float32, error) {
	lhs, err := c.Create(F32Bytes(a))
	if err != nil {
		return nil, err
	}
	defer lhs.Release()
	rhs, err := c.Create(F32Bytes(b))
	if err != nil {
		return nil, err
	}
	defer rhs.Release()
	_, _, cSize := shape.Bytes()
	out, err := c.Empty(cSize)
	if err != nil {
		return nil, err
	}
	defer out.Release()

	set, err := NewMatmulOperationSet(c, shape, lhs, rhs, out)
	if err != nil {
		return nil, err
	}
	defer set.Release()

	if err := c.AutotuneExecute(set); err != nil {
		return nil, err
	}
	data, err := c.Read(out)
	if err != nil {
		return nil, err
	}
	return BytesF32(data), nil
}
