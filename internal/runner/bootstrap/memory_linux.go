//go:build linux

package bootstrap

import "golang.org/x/sys/unix"

// systemTotalMemory returns the physical memory size reported by sysinfo(2).
func systemTotalMemory() (uint64, bool, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false, err
	}
	return uint64(info.Totalram) * uint64(info.Unit), true, nil //nolint:unconvert // field widths differ by arch
}
