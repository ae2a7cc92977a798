//go:build !linux

package rterrain

import "os"

// fadviseSequential is a no-op: FADV_SEQUENTIAL is Linux-specific.
func fadviseSequential(*os.File) {}
