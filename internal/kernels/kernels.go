// Package kernels provides host kernels for the CPU device and the matmul
// operation set used to exercise autotuning.
package kernels

import (
	"encoding/binary"

	"github.com/fxnlabs/function-compute/internal/server"
	"github.com/fxnlabs/function-compute/internal/storage"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

func expectResources(kernel string, res []storage.Resource, n int) error {
	if len(res) != n {
		return errors.Errorf("%s expects %d resources, got %d", kernel, n, len(res))
	}
	return nil
}

func expectF32(kernel string, res storage.Resource) error {
	if res.Size%4 != 0 {
		return errors.Errorf("%s: resource of %d bytes is not a float32 buffer", kernel, res.Size)
	}
	return nil
}

// Noop does nothing. It is used to measure dispatch overhead.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Launch([]storage.Resource) error { return nil }

// FillF32 sets every element of its single resource to Value.
type FillF32 struct {
	Value float32
}

func (FillF32) Name() string { return "fill_f32" }

func (k FillF32) Launch(res []storage.Resource) error {
	if err := expectResources(k.Name(), res, 1); err != nil {
		return err
	}
	if err := expectF32(k.Name(), res[0]); err != nil {
		return err
	}
	out := res[0].Bytes()
	values := make([]float32, len(out)/4)
	for i := range values {
		values[i] = k.Value
	}
	putF32(out, values)
	return nil
}

// AddF32 writes lhs + rhs element-wise to out. Resources are lhs, rhs, out.
type AddF32 struct{}

func (AddF32) Name() string { return "add_f32" }

func (k AddF32) Launch(res []storage.Resource) error {
	if err := expectResources(k.Name(), res, 3); err != nil {
		return err
	}
	for _, r := range res {
		if err := expectF32(k.Name(), r); err != nil {
			return err
		}
	}
	if res[0].Size != res[1].Size || res[0].Size != res[2].Size {
		return errors.Errorf("%s: size mismatch %d + %d -> %d", k.Name(), res[0].Size, res[1].Size, res[2].Size)
	}

	lhs := BytesF32(res[0].Bytes())
	rhs := BytesF32(res[1].Bytes())
	for i := range lhs {
		lhs[i] += rhs[i]
	}
	putF32(res[2].Bytes(), lhs)
	return nil
}

// CastF16 converts float32 input to IEEE half precision. Resources are input
// and output; the output holds two bytes per input element.
type CastF16 struct{}

func (CastF16) Name() string { return "cast_f16" }

func (k CastF16) Launch(res []storage.Resource) error {
	if err := expectResources(k.Name(), res, 2); err != nil {
		return err
	}
	if err := expectF32(k.Name(), res[0]); err != nil {
		return err
	}
	if res[1].Size != res[0].Size/2 {
		return errors.Errorf("%s: output of %d bytes for %d elements", k.Name(), res[1].Size, res[0].Size/4)
	}

	out := res[1].Bytes()
	for i, v := range BytesF32(res[0].Bytes()) {
		binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(v).Bits())
	}
	return nil
}

// CopyBytes returns a custom command copying the first resource into the
// second. It runs synchronously after all earlier work on the device.
func CopyBytes() server.CustomCommand {
	return func(_ server.Server, res []storage.Resource) error {
		if err := expectResources("copy_bytes", res, 2); err != nil {
			return err
		}
		if res[0].Size != res[1].Size {
			return errors.Errorf("copy_bytes: size mismatch %d -> %d", res[0].Size, res[1].Size)
		}
		copy(res[1].Bytes(), res[0].Bytes())
		return nil
	}
}
