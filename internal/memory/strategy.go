package memory

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type deallocKind int

const (
	deallocNever deallocKind = iota
	deallocPeriodTick
	deallocPeriodTime
)

// DeallocStrategy decides when free chunks are handed back to storage.
// Reclaiming requires the device to be done with the memory, so it is
// amortized over many reservations instead of happening on every release.
type DeallocStrategy struct {
	kind     deallocKind
	period   int
	interval time.Duration

	ticks int
	last  time.Time
	now   func() time.Time
}

// NeverDealloc keeps every chunk for reuse.
func NeverDealloc() DeallocStrategy {
	return DeallocStrategy{kind: deallocNever}
}

// PeriodTick reclaims once every period reservations.
func PeriodTick(period int) DeallocStrategy {
	if period < 1 {
		period = 1
	}
	return DeallocStrategy{kind: deallocPeriodTick, period: period}
}

// PeriodTime reclaims at most once per interval.
func PeriodTime(interval time.Duration) DeallocStrategy {
	return DeallocStrategy{kind: deallocPeriodTime, interval: interval, now: time.Now}
}

// ShouldDealloc advances the strategy by one tick.
func (d *DeallocStrategy) ShouldDealloc() bool {
	switch d.kind {
	case deallocPeriodTick:
		d.ticks++
		if d.ticks >= d.period {
			d.ticks = 0
			return true
		}
		return false
	case deallocPeriodTime:
		now := d.now()
		if d.last.IsZero() {
			d.last = now
			return false
		}
		if now.Sub(d.last) >= d.interval {
			d.last = now
			return true
		}
		return false
	default:
		return false
	}
}

func (d DeallocStrategy) String() string {
	switch d.kind {
	case deallocPeriodTick:
		return fmt.Sprintf("period_tick(%d)", d.period)
	case deallocPeriodTime:
		return fmt.Sprintf("period_time(%s)", d.interval)
	default:
		return "never"
	}
}

type sliceKind int

const (
	sliceNever sliceKind = iota
	sliceRatio
	sliceMinimumSize
	sliceMaximumSize
)

// SliceStrategy decides whether a reservation may be carved out of a larger
// free range instead of allocating a new chunk.
type SliceStrategy struct {
	kind  sliceKind
	ratio float64
	size  int
}

// NeverSlice only reuses free chunks of the exact requested size.
func NeverSlice() SliceStrategy {
	return SliceStrategy{kind: sliceNever}
}

// SliceRatio accepts a free range when reserved/rangeSize >= ratio.
func SliceRatio(ratio float64) SliceStrategy {
	return SliceStrategy{kind: sliceRatio, ratio: ratio}
}

// SliceMinimumSize accepts reservations of at least size bytes.
func SliceMinimumSize(size int) SliceStrategy {
	return SliceStrategy{kind: sliceMinimumSize, size: size}
}

// SliceMaximumSize accepts reservations of at most size bytes.
func SliceMaximumSize(size int) SliceStrategy {
	return SliceStrategy{kind: sliceMaximumSize, size: size}
}

// CanUse reports whether reserved bytes may be sliced from a free range of rangeSize bytes.
func (s SliceStrategy) CanUse(rangeSize, reserved int) bool {
	if reserved > rangeSize {
		return false
	}
	switch s.kind {
	case sliceRatio:
		if rangeSize == 0 {
			return true
		}
		return float64(reserved)/float64(rangeSize) >= s.ratio
	case sliceMinimumSize:
		return reserved >= s.size
	case sliceMaximumSize:
		return reserved <= s.size
	default:
		return false
	}
}

func (s SliceStrategy) String() string {
	switch s.kind {
	case sliceRatio:
		return fmt.Sprintf("ratio(%g)", s.ratio)
	case sliceMinimumSize:
		return fmt.Sprintf("minimum_size(%d)", s.size)
	case sliceMaximumSize:
		return fmt.Sprintf("maximum_size(%d)", s.size)
	default:
		return "never"
	}
}

// ParseDeallocStrategy parses the String form of a dealloc strategy, e.g.
// "never", "period_tick(128)" or "period_time(5s)".
func ParseDeallocStrategy(s string) (DeallocStrategy, error) {
	name, arg, err := splitStrategy(s)
	if err != nil {
		return DeallocStrategy{}, err
	}
	switch name {
	case "never":
		return NeverDealloc(), nil
	case "period_tick":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return DeallocStrategy{}, fmt.Errorf("invalid period_tick %q", arg)
		}
		return PeriodTick(n), nil
	case "period_time":
		d, err := time.ParseDuration(arg)
		if err != nil || d <= 0 {
			return DeallocStrategy{}, fmt.Errorf("invalid period_time %q", arg)
		}
		return PeriodTime(d), nil
	default:
		return DeallocStrategy{}, fmt.Errorf("unknown dealloc strategy %q", s)
	}
}

// ParseSliceStrategy parses the String form of a slice strategy, e.g.
// "never", "ratio(0.8)", "minimum_size(1024)" or "maximum_size(1024)".
func ParseSliceStrategy(s string) (SliceStrategy, error) {
	name, arg, err := splitStrategy(s)
	if err != nil {
		return SliceStrategy{}, err
	}
	switch name {
	case "never":
		return NeverSlice(), nil
	case "ratio":
		r, err := strconv.ParseFloat(arg, 64)
		if err != nil || r < 0 || r > 1 {
			return SliceStrategy{}, fmt.Errorf("invalid ratio %q, expected a value in [0, 1]", arg)
		}
		return SliceRatio(r), nil
	case "minimum_size", "maximum_size":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return SliceStrategy{}, fmt.Errorf("invalid %s %q", name, arg)
		}
		if name == "minimum_size" {
			return SliceMinimumSize(n), nil
		}
		return SliceMaximumSize(n), nil
	default:
		return SliceStrategy{}, fmt.Errorf("unknown slice strategy %q", s)
	}
}

func splitStrategy(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if s == "never" {
			return s, "", nil
		}
		return "", "", fmt.Errorf("malformed strategy %q", s)
	}
	if !strings.HasSuffix(s, ")") {
		return "", "", fmt.Errorf("malformed strategy %q", s)
	}
	return s[:open], strings.TrimSpace(s[open+1 : len(s)-1]), nil
}
