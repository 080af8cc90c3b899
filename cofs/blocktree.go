package cofs

import (
	"encoding/binary"

	"github.com/vga/cofs/blockdev"
)

// The four per-inode block arrays (direct, single/double/triple indirect)
// are structurally identical trees of different depth. Rather than port
// original_source/cofs_datablocks.c's four near-duplicate
// __alloc_Nindirect/release_datablocks_indr functions, COFS collapses them
// into one depth-parametrized recursive descent (spec §9 design note).
// depth counts indirect block reads remaining before reaching leaf data
// block references: depth 0 means the array already holds leaf references
// (the Direct array); depth N means each entry is a reference to a block
// holding K entries at depth N-1.

func readRefBlock(dev *blockdev.Device, block uint64) ([K]uint64, error) {
	var refs [K]uint64
	buf := make([]byte, BlockSize)
	if err := dev.Read(block, buf); err != nil {
		return refs, wrapErr("blocktree.read", EIO, err)
	}
	for i := range refs {
		refs[i] = binary.LittleEndian.Uint64(buf[i*refSize : (i+1)*refSize])
	}
	return refs, nil
}

func writeRefBlock(dev *blockdev.Device, block uint64, refs [K]uint64) error {
	buf := make([]byte, BlockSize)
	for i := range refs {
		binary.LittleEndian.PutUint64(buf[i*refSize:(i+1)*refSize], refs[i])
	}
	if err := dev.Write(block, buf); err != nil {
		return wrapErr("blocktree.write", EIO, err)
	}
	return nil
}

// forEachDataBlock visits every data block reference addressed by the
// inode's tree, skipping the first `start` of them, grounded on
// foreach_datablock_in_inode. Holes are not supported: a zero reference
// ends iteration of that subtree, matching the original.
func forEachDataBlock(dev *blockdev.Device, ino *Inode, start uint64, fn func(block uint64) error) error {
	var idx uint64

	var walk func(refs []uint64, depth int) error
	walk = func(refs []uint64, depth int) error {
		for _, ref := range refs {
			if ref == 0 {
				return nil
			}
			if depth == 0 {
				if idx >= start {
					if err := fn(ref); err != nil {
						return err
					}
				}
				idx++
				continue
			}
			child, err := readRefBlock(dev, ref)
			if err != nil {
				return err
			}
			if err := walk(child[:], depth-1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(ino.Direct[:], 0); err != nil {
		return err
	}
	if err := walk(ino.Single[:], 1); err != nil {
		return err
	}
	if err := walk(ino.Double[:], 2); err != nil {
		return err
	}
	return walk(ino.Triple[:], 3)
}

// getLastDataBlock returns the last data block reference addressed by the
// inode, or 0 if it has none, grounded on get_last_datablock.
func getLastDataBlock(dev *blockdev.Device, ino *Inode) (uint64, error) {
	var last uint64
	err := forEachDataBlock(dev, ino, 0, func(block uint64) error {
		last = block
		return nil
	})
	return last, err
}

func allocDirect(fl *freelist, refs []uint64) (uint64, error) {
	block, err := fl.pop()
	if err != nil {
		return 0, err
	}
	if block == 0 {
		return 0, nil
	}
	for i := range refs {
		if refs[i] == 0 {
			refs[i] = block
			return block, nil
		}
	}
	if _, err := fl.append(block); err != nil {
		return 0, err
	}
	return 0, nil
}

// allocInTree grows one of the four per-inode trees by one leaf block,
// generalizing __alloc_1indirect/__alloc_2indirect/__alloc_3indirect into a
// single recursive function parametrized by depth (spec §9).
func allocInTree(dev *blockdev.Device, fl *freelist, refs []uint64, depth int, myBlocks uint64) (uint64, error) {
	if depth == 0 {
		return allocDirect(fl, refs)
	}

	childCap := uint64(1)
	for i := 0; i < depth; i++ {
		childCap *= K
	}

	firstUnused := len(refs)
	for i, r := range refs {
		if r == 0 {
			firstUnused = i
			break
		}
	}

	if myBlocks%childCap == 0 {
		if firstUnused == len(refs) {
			return 0, nil // no room for a new top-level entry
		}

		newBlock, err := fl.pop()
		if err != nil {
			return 0, err
		}
		if newBlock == 0 {
			return 0, nil
		}

		var childRefs [K]uint64
		leaf, err := allocInTree(dev, fl, childRefs[:], depth-1, 0)
		if err != nil || leaf == 0 {
			if _, aerr := fl.append(newBlock); aerr != nil && err == nil {
				err = aerr
			}
			return 0, err
		}
		if err := writeRefBlock(dev, newBlock, childRefs); err != nil {
			return 0, err
		}
		refs[firstUnused] = newBlock
		return leaf, nil
	}

	target := refs[firstUnused-1]
	childRefs, err := readRefBlock(dev, target)
	if err != nil {
		return 0, err
	}
	spare := myBlocks % childCap
	leaf, err := allocInTree(dev, fl, childRefs[:], depth-1, spare)
	if err != nil || leaf == 0 {
		return 0, err
	}
	if err := writeRefBlock(dev, target, childRefs); err != nil {
		return 0, err
	}
	return leaf, nil
}

// allocNewDataBlock appends one new data block to the inode's tree and
// persists the inode, grounded on alloc_new_datablock. Returns 0 if the
// free list is exhausted or the tree is already at MaxFileBlocks.
func allocNewDataBlock(dev *blockdev.Device, fl *freelist, il *ilist, ino *Inode) (uint64, error) {
	const (
		blocksIn1Indirect = N1Indirect * K
		blocksIn2Indirect = N2Indirect * K * K
		blocksIn3Indirect = N3Indirect * K * K * K
	)

	nblocks := ino.NBlocks
	var leaf uint64
	var err error

	switch lim := uint64(NDirect); {
	case nblocks < lim:
		leaf, err = allocInTree(dev, fl, ino.Direct[:], 0, 0)
	case nblocks < lim+blocksIn1Indirect:
		leaf, err = allocInTree(dev, fl, ino.Single[:], 1, nblocks-NDirect)
	case nblocks < lim+blocksIn1Indirect+blocksIn2Indirect:
		leaf, err = allocInTree(dev, fl, ino.Double[:], 2, nblocks-NDirect-blocksIn1Indirect)
	case nblocks < lim+blocksIn1Indirect+blocksIn2Indirect+blocksIn3Indirect:
		leaf, err = allocInTree(dev, fl, ino.Triple[:], 3, nblocks-NDirect-blocksIn1Indirect-blocksIn2Indirect)
	default:
		return 0, nil
	}
	if err != nil || leaf == 0 {
		return 0, err
	}

	ino.NBlocks++
	if err := il.write(ino); err != nil {
		return 0, err
	}
	return leaf, nil
}

// releaseIndr frees leaf blocks (and any indirect block left fully empty)
// from logical position start onward within one indirect subtree,
// grounded on release_datablocks_indr. Reports whether the subtree rooted
// at blocks is now entirely released, so the caller can free the block
// that held it.
func releaseIndr(dev *blockdev.Device, fl *freelist, refs []uint64, depth int, start uint64, pos *uint64) (bool, error) {
	firstReleased := *pos >= start

	for i := range refs {
		cur := refs[i]
		if cur == 0 {
			break
		}
		if depth-1 > 0 {
			child, err := readRefBlock(dev, cur)
			if err != nil {
				return false, err
			}
			released, err := releaseIndr(dev, fl, child[:], depth-1, start, pos)
			if err != nil {
				return false, err
			}
			if released {
				if _, err := fl.append(cur); err != nil {
					return false, err
				}
			}
		} else {
			if *pos >= start {
				if _, err := fl.append(cur); err != nil {
					return false, err
				}
			}
			*pos++
		}
	}

	return firstReleased, nil
}

// releaseDataBlocks truncates the inode's tree to `start` data blocks,
// freeing everything beyond it, grounded on release_datablocks. Unlike
// the original (which only inspects the triple-indirect array when the
// double-indirect array is non-empty), each array is walked independently
// so a file that somehow has a triple-indirect chain without a
// double-indirect one still gets fully released.
func releaseDataBlocks(dev *blockdev.Device, fl *freelist, il *ilist, ino *Inode, start uint64) error {
	var pos uint64

	for i := range ino.Direct {
		cur := ino.Direct[i]
		if cur == 0 {
			break
		}
		if pos >= start {
			if _, err := fl.append(cur); err != nil {
				return err
			}
			ino.Direct[i] = 0
		}
		pos++
	}

	for i := range ino.Single {
		cur := ino.Single[i]
		if cur == 0 {
			break
		}
		child, err := readRefBlock(dev, cur)
		if err != nil {
			return err
		}
		released, err := releaseIndr(dev, fl, child[:], 1, start, &pos)
		if err != nil {
			return err
		}
		if released {
			if _, err := fl.append(cur); err != nil {
				return err
			}
			ino.Single[i] = 0
		}
	}

	for i := range ino.Double {
		cur := ino.Double[i]
		if cur == 0 {
			break
		}
		child, err := readRefBlock(dev, cur)
		if err != nil {
			return err
		}
		released, err := releaseIndr(dev, fl, child[:], 2, start, &pos)
		if err != nil {
			return err
		}
		if released {
			if _, err := fl.append(cur); err != nil {
				return err
			}
			ino.Double[i] = 0
		}
	}

	for i := range ino.Triple {
		cur := ino.Triple[i]
		if cur == 0 {
			break
		}
		child, err := readRefBlock(dev, cur)
		if err != nil {
			return err
		}
		released, err := releaseIndr(dev, fl, child[:], 3, start, &pos)
		if err != nil {
			return err
		}
		if released {
			if _, err := fl.append(cur); err != nil {
				return err
			}
			ino.Triple[i] = 0
		}
	}

	ino.NBlocks = start
	return il.write(ino)
}
