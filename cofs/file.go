package cofs

import (
	"github.com/vga/cofs/blockdev"
)

// readData copies up to len(buf) bytes from the file starting at byte
// offset start, grounded on File_readData. Returns the number of bytes
// copied, which is less than len(buf) at end of file.
func readData(dev *blockdev.Device, ino *Inode, start uint64, buf []byte) (int, error) {
	length := uint64(len(buf))
	if start >= ino.NBytes {
		return 0, nil
	}
	if start+length > ino.NBytes {
		length = ino.NBytes - start
	}

	blockIndex := start / BlockSize
	blockOffset := start % BlockSize

	var read uint64
	cached := make([]byte, BlockSize)
	err := forEachDataBlock(dev, ino, blockIndex, func(blk uint64) error {
		if read >= length {
			return errStopIteration
		}
		if err := dev.Read(blk, cached); err != nil {
			return wrapErr("file.read", EIO, err)
		}

		from := uint64(0)
		if read == 0 {
			from = blockOffset
		}
		amt := BlockSize - from
		if length-read < amt {
			amt = length - read
		}

		copy(buf[read:read+amt], cached[from:from+amt])
		read += amt
		return nil
	})
	if err != nil && err != errStopIteration {
		return int(read), err
	}

	return int(read), nil
}

// errStopIteration is a private sentinel used to end forEachDataBlock
// early once a read/write has copied everything it needs.
var errStopIteration = newErr("file.stopIteration", EIO)

func intdivCeil(dividend, divisor uint64) uint64 {
	return (dividend + divisor - 1) / divisor
}

// writeData writes buf at byte offset start, growing the file and
// allocating new data blocks as needed, grounded on File_writeData. On
// partial failure of a growing write, the blocks beyond the file's
// pre-write size (ceil(NBytes/BlockSize)) are released and NBytes is left
// unchanged, the same rollback File_writeData performs via
// release_datablocks.
func writeData(dev *blockdev.Device, fl *freelist, il *ilist, ino *Inode, start uint64, buf []byte) (int, error) {
	length := uint64(len(buf))
	finalSize := start + length
	if finalSize > MaxFileSize {
		return 0, newErr("file.write", EFBIG)
	}

	for ino.NBlocks < intdivCeil(finalSize, BlockSize) {
		block, err := allocNewDataBlock(dev, fl, il, ino)
		if err != nil {
			return 0, err
		}
		if block == 0 {
			if ino.NBytes < finalSize {
				if rerr := releaseDataBlocks(dev, fl, il, ino, intdivCeil(ino.NBytes, BlockSize)); rerr != nil {
					return 0, rerr
				}
			}
			return 0, newErr("file.write", ENOSPC)
		}
	}

	blockIndex := start / BlockSize
	blockOffset := start % BlockSize

	var written uint64
	cached := make([]byte, BlockSize)
	werr := forEachDataBlock(dev, ino, blockIndex, func(blk uint64) error {
		if written >= length {
			return errStopIteration
		}

		from := uint64(0)
		if written == 0 {
			from = blockOffset
		}
		amt := uint64(BlockSize) - from
		if length-written < amt {
			amt = length - written
		}

		if from != 0 {
			if err := dev.Read(blk, cached); err != nil {
				return wrapErr("file.write", EIO, err)
			}
		} else {
			for i := range cached {
				cached[i] = 0
			}
		}

		copy(cached[from:from+amt], buf[written:written+amt])
		if err := dev.Write(blk, cached); err != nil {
			return wrapErr("file.write", EIO, err)
		}

		written += amt
		return nil
	})
	if werr != nil && werr != errStopIteration {
		if ino.NBytes < finalSize {
			if rerr := releaseDataBlocks(dev, fl, il, ino, intdivCeil(ino.NBytes, BlockSize)); rerr != nil {
				return int(written), rerr
			}
		}
		return int(written), werr
	}

	if finalSize > ino.NBytes {
		ino.NBytes = finalSize
	}
	if err := il.write(ino); err != nil {
		return int(written), err
	}

	return int(written), nil
}

// truncateData sets a file's size to newSize bytes. Shrinking frees any
// data blocks beyond the new end; growing allocates (zero-filled) data
// blocks until the tree covers newSize, releasing them again and failing
// with ENOSPC if the free list runs out.
func truncateData(dev *blockdev.Device, fl *freelist, il *ilist, ino *Inode, newSize uint64) error {
	if newSize >= ino.NBytes {
		for ino.NBlocks < intdivCeil(newSize, BlockSize) {
			block, err := allocNewDataBlock(dev, fl, il, ino)
			if err != nil {
				return err
			}
			if block == 0 {
				if rerr := releaseDataBlocks(dev, fl, il, ino, intdivCeil(ino.NBytes, BlockSize)); rerr != nil {
					return rerr
				}
				return newErr("file.truncate", ENOSPC)
			}
		}
		ino.NBytes = newSize
		return il.write(ino)
	}

	keepBlocks := intdivCeil(newSize, BlockSize)
	if err := releaseDataBlocks(dev, fl, il, ino, keepBlocks); err != nil {
		return err
	}
	ino.NBytes = newSize
	return il.write(ino)
}
