package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeallocStrategy(t *testing.T) {
	t.Run("never", func(t *testing.T) {
		s := NeverDealloc()
		for i := 0; i < 10; i++ {
			assert.False(t, s.ShouldDealloc())
		}
	})

	t.Run("period tick", func(t *testing.T) {
		s := PeriodTick(3)
		var got []bool
		for i := 0; i < 6; i++ {
			got = append(got, s.ShouldDealloc())
		}
		assert.Equal(t, []bool{false, false, true, false, false, true}, got)
	})

	t.Run("period tick clamps to one", func(t *testing.T) {
		s := PeriodTick(0)
		assert.True(t, s.ShouldDealloc())
		assert.True(t, s.ShouldDealloc())
	})

	t.Run("period time", func(t *testing.T) {
		now := time.Unix(1000, 0)
		s := PeriodTime(time.Second)
		s.now = func() time.Time { return now }

		assert.False(t, s.ShouldDealloc())
		now = now.Add(500 * time.Millisecond)
		assert.False(t, s.ShouldDealloc())
		now = now.Add(600 * time.Millisecond)
		assert.True(t, s.ShouldDealloc())
		assert.False(t, s.ShouldDealloc())
	})
}

func TestSliceStrategy_CanUse(t *testing.T) {
	testCases := []struct {
		name      string
		strategy  SliceStrategy
		rangeSize int
		reserved  int
		expected  bool
	}{
		{"never", NeverSlice(), 100, 90, false},
		{"ratio accepts", SliceRatio(0.8), 100, 80, true},
		{"ratio rejects", SliceRatio(0.8), 100, 79, false},
		{"ratio too large", SliceRatio(0.8), 100, 101, false},
		{"minimum accepts", SliceMinimumSize(64), 1024, 64, true},
		{"minimum rejects", SliceMinimumSize(64), 1024, 63, false},
		{"maximum accepts", SliceMaximumSize(64), 1024, 64, true},
		{"maximum rejects", SliceMaximumSize(64), 1024, 65, false},
		{"maximum too large", SliceMaximumSize(4096), 1024, 2048, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.strategy.CanUse(tc.rangeSize, tc.reserved))
		})
	}
}

func TestStrategy_String(t *testing.T) {
	assert.Equal(t, "period_tick(128)", PeriodTick(128).String())
	assert.Equal(t, "never", NeverDealloc().String())
	assert.Equal(t, "ratio(0.8)", SliceRatio(0.8).String())
	assert.Equal(t, "maximum_size(16)", SliceMaximumSize(16).String())
}

func TestParseStrategies(t *testing.T) {
	for _, in := range []string{"never", "period_tick(128)", "period_time(5s)"} {
		t.Run(in, func(t *testing.T) {
			s, err := ParseDeallocStrategy(in)
			require.NoError(t, err)
			assert.Equal(t, in, s.String())
		})
	}
	for _, in := range []string{"never", "ratio(0.8)", "minimum_size(64)", "maximum_size(1024)"} {
		t.Run(in, func(t *testing.T) {
			s, err := ParseSliceStrategy(in)
			require.NoError(t, err)
			assert.Equal(t, in, s.String())
		})
	}

	for _, in := range []string{"sometimes", "period_tick(0)", "period_tick(x)", "period_time(-1s)", "period_tick(3"} {
		_, err := ParseDeallocStrategy(in)
		assert.Error(t, err, in)
	}
	for _, in := range []string{"ratio(1.5)", "ratio()", "minimum_size(-1)", "fit(3)"} {
		_, err := ParseSliceStrategy(in)
		assert.Error(t, err, in)
	}
}
