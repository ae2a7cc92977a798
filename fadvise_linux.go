//go:build linux

package rterrain

import (
	"os"

	"golang.org/x/sys/unix"
)

// fadviseSequential tells the kernel the whole file is about to be read
// front to back. Used by OpenReader on *os.File inputs. Best-effort.
func fadviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
