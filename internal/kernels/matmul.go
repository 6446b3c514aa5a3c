package kernels

import (
	"fmt"

	"github.com/fxnlabs/function-compute/internal/storage"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// MatmulShape is C = A * B with A of M×K, B of K×N and C of M×N, all
// row-major float32.
type MatmulShape struct {
	M, K, N int
}

func (s MatmulShape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.M, s.K, s.N)
}

// Bytes returns the buffer sizes of A, B and C.
func (s MatmulShape) Bytes() (int, int, int) {
	return 4 * s.M * s.K, 4 * s.K * s.N, 4 * s.M * s.N
}

// operands validates the resources and decodes A and B.
func (s MatmulShape) operands(kernel string, res []storage.Resource) ([]float32, []float32, error) {
	if err := expectResources(kernel, res, 3); err != nil {
		return nil, nil, err
	}
	aSize, bSize, cSize := s.Bytes()
	if res[0].Size != aSize || res[1].Size != bSize || res[2].Size != cSize {
		return nil, nil, errors.Errorf("%s: buffers of %d, %d, %d bytes do not match shape %s",
			kernel, res[0].Size, res[1].Size, res[2].Size, s)
	}
	return BytesF32(res[0].Bytes()), BytesF32(res[1].Bytes()), nil
}

// MatmulNaive is the triple loop. It is applicable to every shape.
type MatmulNaive struct {
	Shape MatmulShape
}

func (MatmulNaive) Name() string { return "matmul_naive" }

func (k MatmulNaive) Launch(res []storage.Resource) error {
	a, b, err := k.Shape.operands(k.Name(), res)
	if err != nil {
		return err
	}
	m, kk, n := k.Shape.M, k.Shape.K, k.Shape.N

	c := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := float32(0.0)
			for l := 0; l < kk; l++ {
				sum += a[i*kk+l] * b[l*n+j]
			}
			c[i*n+j] = sum
		}
	}
	putF32(res[2].Bytes(), c)
	return nil
}

// MatmulTiled blocks the loops in Tile×Tile tiles for cache locality.
type MatmulTiled struct {
	Shape MatmulShape
	Tile  int
}

func (k MatmulTiled) Name() string { return fmt.Sprintf("matmul_tiled_%d", k.Tile) }

func (k MatmulTiled) Launch(res []storage.Resource) error {
	if k.Tile < 1 {
		return errors.Errorf("%s: invalid tile size", k.Name())
	}
	a, b, err := k.Shape.operands(k.Name(), res)
	if err != nil {
		return err
	}
	m, kk, n, t := k.Shape.M, k.Shape.K, k.Shape.N, k.Tile

	c := make([]float32, m*n)
	for i0 := 0; i0 < m; i0 += t {
		iMax := min(i0+t, m)
		for l0 := 0; l0 < kk; l0 += t {
			lMax := min(l0+t, kk)
			for j0 := 0; j0 < n; j0 += t {
				jMax := min(j0+t, n)
				for i := i0; i < iMax; i++ {
					for l := l0; l < lMax; l++ {
						av := a[i*kk+l]
						row := b[l*n : l*n+n]
						out := c[i*n : i*n+n]
						for j := j0; j < jMax; j++ {
							out[j] += av * row[j]
						}
					}
				}
			}
		}
	}
	putF32(res[2].Bytes(), c)
	return nil
}

// MatmulBlas delegates to gonum's float32 GEMM.
type MatmulBlas struct {
	Shape MatmulShape
}

func (MatmulBlas) Name() string { return "matmul_blas" }

func (k MatmulBlas) Launch(res []storage.Resource) error {
	a, b, err := k.Shape.operands(k.Name(), res)
	if err != nil {
		return err
	}
	m, kk, n := k.Shape.M, k.Shape.K, k.Shape.N
	if m == 0 || kk == 0 || n == 0 {
		putF32(res[2].Bytes(), make([]float32, m*n))
		return nil
	}

	c := blas32.General{Rows: m, Cols: n, Stride: n, Data: make([]float32, m*n)}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: kk, Stride: kk, Data: a},
		blas32.General{Rows: kk, Cols: n, Stride: n, Data: b},
		0, c)
	putF32(res[2].Bytes(), c.Data)
	return nil
}
