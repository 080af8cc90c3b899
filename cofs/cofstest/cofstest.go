// Package cofstest provides small fixtures for exercising the cofs
// package in tests: an anonymous in-memory block device, freshly
// formatted, as a lightweight stand-in backing store instead of a real
// file or block device.
package cofstest

import (
	"testing"

	"github.com/vga/cofs/blockdev"
	"github.com/vga/cofs/cofs"
	"github.com/vga/cofs/mkfs"
)

// MinVolumeBlocks is the smallest block count that leaves room for a
// non-trivial i-list, free list, and a handful of data blocks once the
// 10% i-list fraction is applied.
const MinVolumeBlocks = 64

// NewVolume formats a fresh anonymous in-memory device with numBlocks
// blocks and returns it mounted, failing the test on any error.
func NewVolume(t *testing.T, numBlocks uint64) *cofs.FileSystem {
	t.Helper()

	if numBlocks < MinVolumeBlocks {
		numBlocks = MinVolumeBlocks
	}

	dev, err := blockdev.Create(numBlocks * blockdev.BlockSize)
	if err != nil {
		t.Fatalf("cofstest: create device: %v", err)
	}

	fs, err := mkfs.Format(dev, mkfs.Options{Uid: 1000, Gid: 1000})
	if err != nil {
		t.Fatalf("cofstest: format: %v", err)
	}

	return fs
}
