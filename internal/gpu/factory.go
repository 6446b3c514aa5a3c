package gpu

import "go.uber.org/zap"

// DefaultAdapters returns the adapters compiled into this binary.
// Only the host adapter ships; accelerator adapters are passed to NewProvider
// by the code that links them.
func DefaultAdapters(logger *zap.Logger) []Adapter {
	return []Adapter{NewCPUAdapter(logger)}
}
