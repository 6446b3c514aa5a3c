package gpu

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func BenchmarkHostQueue_Submit(b *testing.B) {
	q := NewHostQueue(zap.NewNop())
	defer q.Close()

	for _, size := range []int{1, 16, 64, 256} {
		b.Run(fmt.Sprintf("batch_%d", size), func(b *testing.B) {
			cmds := make([]Command, size)
			for i := range cmds {
				cmds[i] = func() error { return nil }
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				q.Submit(cmds)
				if err := q.Wait(); err != nil {
					b.Fatal(err)
				}
			}
			b.ReportMetric(float64(size), "cmds/op")
		})
	}
}
