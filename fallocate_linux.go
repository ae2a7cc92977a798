//go:build linux

package rterrain

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes for a package file so that writes
// through the memory map cannot fault with SIGBUS on a full disk.
func fallocateFile(file *os.File, size int64) error {
	fd := int(file.Fd())
	if err := unix.Fallocate(fd, 0, 0, size); err != nil {
		// Some filesystems (NFS, tmpfs on old kernels) lack fallocate.
		return unix.Ftruncate(fd, size)
	}
	// fallocate reserves blocks but does not extend the file.
	return unix.Ftruncate(fd, size)
}
