//go:build linux

package chunk

import "golang.org/x/sys/unix"

// adviseSequential is a best-effort readahead hint for files backed by the
// OS filesystem.
func adviseSequential(f any) {
	if fd, ok := f.(interface{ Fd() uintptr }); ok {
		_ = unix.Fadvise(int(fd.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	}
}
