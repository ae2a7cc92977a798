//go:build !linux

package rterrain

// prefaultRegion is a no-op: MADV_POPULATE_WRITE is Linux 5.14+ specific.
func prefaultRegion([]byte) {}

// adviseSequential is a no-op outside Linux.
func adviseSequential([]byte) {}
