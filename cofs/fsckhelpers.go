package cofs

import "github.com/vga/cofs/blockdev"

// ReadInodeDirect reads a single inode by number straight off the device,
// bypassing any FileSystem handle; used by fsck, which inspects a volume
// that may not be safe to fully Mount yet.
func ReadInodeDirect(dev *blockdev.Device, sb *Superblock, inum uint64) (*Inode, error) {
	il := newIlist(dev, sb)
	return il.read(inum)
}

// ForEachDataBlockDirect exports forEachDataBlock for fsck's use.
func ForEachDataBlockDirect(dev *blockdev.Device, ino *Inode, fn func(block uint64) error) error {
	return forEachDataBlock(dev, ino, 0, fn)
}

// CheckFreeList exports the free-list integrity check for fsck's use.
func CheckFreeList(dev *blockdev.Device, head uint64, expected []uint64) *CheckResult {
	return check(dev, head, expected)
}

// CheckResult is the exported alias fsck consumes.
type CheckResult = checkResult
