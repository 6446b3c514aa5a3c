//go:build linux

package gpu

import "golang.org/x/sys/unix"

// systemMemory returns total and free host memory in bytes.
func systemMemory() (int64, int64) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0
	}
	unit := int64(info.Unit)
	return int64(info.Totalram) * unit, int64(info.Freeram) * unit
}
