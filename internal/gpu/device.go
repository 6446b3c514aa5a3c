package gpu

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceKind is the family of device a caller asks for.
type DeviceKind int

const (
	KindBestAvailable DeviceKind = iota
	KindDiscreteGpu
	KindIntegratedGpu
	KindVirtualGpu
	KindCpu
	KindExisting
)

// Device identifies one logical device. It is comparable and used as the
// registry key, so two equal values always share one client.
type Device struct {
	Kind  DeviceKind
	Index int
}

// DiscreteGpu is the n-th discrete GPU.
func DiscreteGpu(n int) Device { return Device{Kind: KindDiscreteGpu, Index: n} }

// IntegratedGpu is the n-th integrated GPU.
func IntegratedGpu(n int) Device { return Device{Kind: KindIntegratedGpu, Index: n} }

// VirtualGpu is the n-th virtual GPU.
func VirtualGpu(n int) Device { return Device{Kind: KindVirtualGpu, Index: n} }

// Cpu is the host device.
func Cpu() Device { return Device{Kind: KindCpu} }

// BestAvailable picks the highest scoring adapter.
func BestAvailable() Device { return Device{Kind: KindBestAvailable} }

// Existing refers to a device context registered by the caller under id.
func Existing(id int) Device { return Device{Kind: KindExisting, Index: id} }

func (d Device) String() string {
	switch d.Kind {
	case KindDiscreteGpu:
		return fmt.Sprintf("discrete:%d", d.Index)
	case KindIntegratedGpu:
		return fmt.Sprintf("integrated:%d", d.Index)
	case KindVirtualGpu:
		return fmt.Sprintf("virtual:%d", d.Index)
	case KindCpu:
		return "cpu"
	case KindExisting:
		return fmt.Sprintf("existing:%d", d.Index)
	default:
		return "best"
	}
}

// ParseDevice parses "<kind>[:<index>]", e.g. "discrete:1", "cpu" or "best".
func ParseDevice(s string) (Device, error) {
	name, idx, hasIdx := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	index := 0
	if hasIdx {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device index %q in %q", idx, s)
		}
		index = n
	}

	switch name {
	case "", "best", "auto":
		return BestAvailable(), nil
	case "discrete":
		return DiscreteGpu(index), nil
	case "integrated":
		return IntegratedGpu(index), nil
	case "virtual":
		return VirtualGpu(index), nil
	case "cpu":
		return Cpu(), nil
	case "existing":
		return Existing(index), nil
	default:
		return Device{}, fmt.Errorf("unknown device %q (expected best, discrete, integrated, virtual, cpu or existing)", s)
	}
}
