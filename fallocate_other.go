//go:build !linux && !darwin

package rterrain

import "os"

// fallocateFile sets the package file length. Disk blocks are not
// reserved on these platforms.
func fallocateFile(file *os.File, size int64) error {
	return file.Truncate(size)
}
