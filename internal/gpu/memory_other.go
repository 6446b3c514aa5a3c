//go:build !linux

package gpu

// systemMemory is not queried outside Linux.
func systemMemory() (int64, int64) {
	return 0, 0
}
