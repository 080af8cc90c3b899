package cofs

import (
	"github.com/google/uuid"

	"github.com/vga/cofs/blockdev"
)

// IlistSizeFor computes the i-list size in blocks for a device of the
// given total block count, grounded on cofs_mkfs.c's
// NUM_BLOCKS / ILIST_SIZE_FRACTION.
func IlistSizeFor(numBlocks uint64) uint64 {
	return numBlocks / ilistFracDv
}

// SuperblockParams seeds a fresh Superblock at format time.
type SuperblockParams struct {
	IlistSize  uint64
	NBlocks    uint64
	FlistHead  uint64
	FreeBlocks uint64
	FreeInodes uint64
	Volume     uuid.UUID
}

// NewSuperblock builds the in-core superblock mkfs writes out first,
// grounded on cofs_mkfs.c's memset-then-populate of sblock_incore.
func NewSuperblock(dev *blockdev.Device, p SuperblockParams) *Superblock {
	return &Superblock{
		dev:        dev,
		IlistSize:  p.IlistSize,
		NBlocks:    p.NBlocks,
		FlistHead:  p.FlistHead,
		FreeBlocks: p.FreeBlocks,
		FreeInodes: p.FreeInodes,
		Volume:     p.Volume,
	}
}

// Persist writes the superblock to block 0, exported for mkfs's use
// outside a live FileSystem handle.
func (sb *Superblock) Persist() error {
	return sb.writeBack()
}

// CreateIlist exports createIlist for mkfs.
func CreateIlist(dev *blockdev.Device, ilistSize uint64) error {
	return createIlist(dev, ilistSize)
}

// CreateFreeList exports createFreeList for mkfs.
func CreateFreeList(dev *blockdev.Device, nDataBlocks, head uint64) error {
	return createFreeList(dev, nDataBlocks, head)
}

// BootstrapRoot allocates and populates the root directory inode on a
// freshly formatted, already-mounted filesystem, grounded on the
// non-BUILD_MKFS_PROGRAM tail of mkfs(): allocate the root inode, pop one
// data block for it directly (root is its own parent, so the generic
// createDir helper's parent-refcount bump doesn't apply here), and write
// "." and ".." pointing at itself.
func BootstrapRoot(fs *FileSystem, uid, gid uint32) (uint64, error) {
	inum, err := fs.il.allocate()
	if err != nil {
		return 0, err
	}
	if inum == Missing {
		return 0, newErr("mkfs.bootstrapRoot", ENOSPC)
	}

	block, err := fs.fl.pop()
	if err != nil {
		return 0, err
	}
	if block == 0 {
		return 0, newErr("mkfs.bootstrapRoot", ENOSPC)
	}

	now := currentTime()
	root := &Inode{
		InUse: true, Type: TypeDir, Perm: SymlinkPerm, Uid: uid, Gid: gid,
		Inum: inum, Refcount: 2, NBlocks: 1, NBytes: BlockSize, NumDirEntries: 2,
		Atim: now, Mtim: now, Ctim: now, Btim: now,
	}
	root.Direct[0] = block

	var entries [DirEntriesPerBlock]DirEntry
	entries[0] = DirEntry{Name: ".", Inum: inum}
	entries[1] = DirEntry{Name: "..", Inum: inum}
	if err := writeDirBlock(fs.dev, block, entries); err != nil {
		return 0, err
	}

	if err := fs.il.write(root); err != nil {
		return 0, err
	}

	return inum, nil
}
