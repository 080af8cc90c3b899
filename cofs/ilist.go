package cofs

import (
	"encoding/binary"

	"github.com/vga/cofs/blockdev"
)

// ilist is the i-list (inode table) cache: a one-block window over the
// contiguous run of inode blocks starting at block 1, grounded on
// original_source/cofs_inode_functions.c's static inode_cache/
// cached_inode_block globals, bundled here per spec §9.
type ilist struct {
	dev *blockdev.Device
	sb  *Superblock

	cached      bool
	cachedBlock uint64
	block       [InodesPerBlock]Inode
}

func newIlist(dev *blockdev.Device, sb *Superblock) *ilist {
	return &ilist{dev: dev, sb: sb}
}

// createIlist stamps every inode slot in the i-list with an empty, unused
// inode carrying its own inode number, grounded on ilist_create.
func createIlist(dev *blockdev.Device, ilistSize uint64) error {
	var block [InodesPerBlock]Inode
	for iblock := uint64(0); iblock < ilistSize; iblock++ {
		for i := range block {
			block[i] = Inode{Inum: iblock*InodesPerBlock + uint64(i)}
		}
		if err := writeInodeBlock(dev, iblock+ilistStart, &block); err != nil {
			return err
		}
	}
	return nil
}

func writeInodeBlock(dev *blockdev.Device, blockNum uint64, block *[InodesPerBlock]Inode) error {
	buf := make([]byte, 0, BlockSize)
	for i := range block {
		buf = append(buf, block[i].MarshalBinary(binary.LittleEndian)...)
	}
	if err := dev.Write(blockNum, buf); err != nil {
		return wrapErr("ilist.write", EIO, err)
	}
	return nil
}

func readInodeBlock(dev *blockdev.Device, blockNum uint64, block *[InodesPerBlock]Inode) error {
	buf := make([]byte, BlockSize)
	if err := dev.Read(blockNum, buf); err != nil {
		return wrapErr("ilist.read", EIO, err)
	}
	for i := range block {
		if err := block[i].UnmarshalBinary(buf[i*InodeSize:(i+1)*InodeSize], binary.LittleEndian); err != nil {
			return err
		}
	}
	return nil
}

func (il *ilist) loadBlock(blockNum uint64) error {
	if il.cached && il.cachedBlock == blockNum {
		return nil
	}
	if err := readInodeBlock(il.dev, blockNum, &il.block); err != nil {
		return err
	}
	il.cached = true
	il.cachedBlock = blockNum
	return nil
}

func (il *ilist) flush() error {
	return writeInodeBlock(il.dev, il.cachedBlock, &il.block)
}

// allocate finds and marks in-use a free inode, grounded on
// allocate_inode: the first free slot of the cached block if it has one,
// else the lowest-numbered free inode found by scanning the whole i-list
// block by block.
func (il *ilist) allocate() (uint64, error) {
	if il.cached {
		for i := range il.block {
			if !il.block[i].InUse {
				il.block[i].InUse = true
				il.block[i].Refcount = 1
				if err := il.flush(); err != nil {
					return 0, err
				}
				il.sb.FreeInodes--
				return il.block[i].Inum, nil
			}
		}
	}

	for b := uint64(ilistStart); b <= uint64(ilistStart)+il.sb.IlistSize-1; b++ {
		if err := il.loadBlock(b); err != nil {
			return 0, err
		}
		for i := range il.block {
			if !il.block[i].InUse {
				il.block[i].InUse = true
				il.block[i].Refcount = 1
				if err := il.flush(); err != nil {
					return 0, err
				}
				il.sb.FreeInodes--
				return il.block[i].Inum, nil
			}
		}
	}

	return Missing, nil
}

func (il *ilist) blockAndSlot(inum uint64) (uint64, uint64) {
	return inum/InodesPerBlock + ilistStart, inum % InodesPerBlock
}

// free marks an inode slot unused and clears it, grounded on free_inode.
func (il *ilist) free(inum uint64) error {
	blockNum, slot := il.blockAndSlot(inum)
	if err := il.loadBlock(blockNum); err != nil {
		return err
	}

	il.block[slot] = Inode{Inum: inum}
	if err := il.flush(); err != nil {
		return err
	}
	il.sb.FreeInodes++
	return nil
}

// read fetches a copy of an inode, grounded on read_inode.
func (il *ilist) read(inum uint64) (*Inode, error) {
	blockNum, slot := il.blockAndSlot(inum)
	if err := il.loadBlock(blockNum); err != nil {
		return nil, err
	}
	cp := il.block[slot]
	return &cp, nil
}

// write stores an inode's contents back to the i-list, grounded on
// write_inode.
func (il *ilist) write(ino *Inode) error {
	blockNum, slot := il.blockAndSlot(ino.Inum)
	if err := il.loadBlock(blockNum); err != nil {
		return err
	}
	il.block[slot] = *ino
	return il.flush()
}
