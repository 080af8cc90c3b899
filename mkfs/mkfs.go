// Package mkfs formats a raw block device with a fresh COFS volume,
// grounded on original_source/cofs_mkfs.c: lay out the superblock,
// initialize the i-list, chain up the free list, then populate the root
// directory.
package mkfs

import (
	"github.com/google/uuid"

	"github.com/vga/cofs/blockdev"
	"github.com/vga/cofs/cofs"
)

// Options configures Format beyond what can be derived from the device's
// size, grounded on mkfs.cofs's -o/-g owner/group flags.
type Options struct {
	Uid uint32
	Gid uint32
}

// Format writes a complete, empty COFS filesystem to dev and returns a
// FileSystem handle already mounted on it.
func Format(dev *blockdev.Device, opt Options) (*cofs.FileSystem, error) {
	numBlocks := dev.NumBlocks
	ilistSize := cofs.IlistSizeFor(numBlocks)
	flistHead := ilistSize + 1
	numDataBlocks := numBlocks - (1 + ilistSize)

	sb := cofs.NewSuperblock(dev, cofs.SuperblockParams{
		IlistSize:  ilistSize,
		NBlocks:    numBlocks,
		FlistHead:  flistHead,
		FreeBlocks: numDataBlocks,
		FreeInodes: ilistSize * cofs.InodesPerBlock,
		Volume:     uuid.New(),
	})
	if err := sb.Persist(); err != nil {
		return nil, err
	}

	if err := cofs.CreateIlist(dev, ilistSize); err != nil {
		return nil, err
	}

	if err := cofs.CreateFreeList(dev, numDataBlocks, flistHead); err != nil {
		return nil, err
	}

	fs, err := cofs.Mount(dev)
	if err != nil {
		return nil, err
	}

	root, err := cofs.BootstrapRoot(fs, opt.Uid, opt.Gid)
	if err != nil {
		return nil, err
	}

	sb.RootDir = root
	if err := sb.Persist(); err != nil {
		return nil, err
	}

	return fs, nil
}
