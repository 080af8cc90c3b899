package cofs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/vga/cofs/blockdev"
)

// entriesPerFreeBlock is E in the spec: the number of data-block references
// a free-list block can hold alongside its "next" pointer.
const entriesPerFreeBlock = BlockSize/refSize - 1

// freelist is the singly linked list of free data blocks (spec §4.3),
// grounded function-for-function on original_source/free_list.c. Per
// spec §9 ("Global mutable state ... should be bundled into a filesystem
// handle"), the C file's static globals (list_head, next_freeslot,
// tail_idx, list_head_blkidx) become this struct's fields instead.
type freelist struct {
	dev *blockdev.Device
	sb  *Superblock

	headIdx      uint64
	headNext     uint64
	headData     [entriesPerFreeBlock]uint64
	nextFreeslot int // slot append fills next (pop scans from just above it); -1 means append has no slot in the head block
	tailIdx      uint64
}

func zeroBlock() []byte { return make([]byte, BlockSize) }

func (fl *freelist) readBlockRefs(bnum uint64) (next uint64, data [entriesPerFreeBlock]uint64, err error) {
	buf := make([]byte, BlockSize)
	if rerr := fl.dev.Read(bnum, buf); rerr != nil {
		return 0, data, wrapErr("freelist.read", EIO, rerr)
	}
	r := bytes.NewReader(buf)
	binary.Read(r, binary.LittleEndian, &next)
	binary.Read(r, binary.LittleEndian, &data)
	return next, data, nil
}

func (fl *freelist) writeBlockRefs(bnum, next uint64, data [entriesPerFreeBlock]uint64) error {
	buf := new(bytes.Buffer)
	buf.Grow(BlockSize)
	binary.Write(buf, binary.LittleEndian, next)
	binary.Write(buf, binary.LittleEndian, data)
	out := buf.Bytes()
	out = append(out, make([]byte, BlockSize-len(out))...)
	if err := fl.dev.Write(bnum, out); err != nil {
		return wrapErr("freelist.write", EIO, err)
	}
	return nil
}

// createFreeList lays out the free list at format time, grounded on
// FreeList_create: a chain of blocks each listing the E blocks immediately
// following it, the leftover parked at the first block's high slots.
func createFreeList(dev *blockdev.Device, nDataBlocks, head uint64) error {
	nDataBlocks-- // the head's own block is excluded; it's consumed by the list itself
	nFreelistBlocks := ceilDiv(nDataBlocks, entriesPerFreeBlock+1)
	leftover := nDataBlocks % (entriesPerFreeBlock + 1)
	startIdx := entriesPerFreeBlock - leftover

	cur := head
	for i := uint64(0); i < nFreelistBlocks; i++ {
		var data [entriesPerFreeBlock]uint64
		next := cur + (entriesPerFreeBlock - startIdx) + 1
		n := cur
		for idx := startIdx; idx < entriesPerFreeBlock; idx++ {
			n++
			data[idx] = n
		}
		if i == nFreelistBlocks-1 {
			next = 0
		}
		if err := (&freelist{dev: dev}).writeBlockRefs(cur, next, data); err != nil {
			return err
		}
		cur = next
		startIdx = 0
	}
	return nil
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// loadFreeList mounts the free list, grounded on FreeList_init: read the
// head block and scan it for the lowest occupied slot to seed the cursor.
func loadFreeList(dev *blockdev.Device, sb *Superblock, head uint64) (*freelist, error) {
	fl := &freelist{dev: dev, sb: sb, headIdx: head}
	if head == 0 {
		fl.nextFreeslot = -1
		return fl, nil
	}

	next, data, err := fl.readBlockRefs(head)
	if err != nil {
		return nil, err
	}
	fl.headNext = next
	fl.headData = data

	fl.nextFreeslot = entriesPerFreeBlock - 1
	for fl.nextFreeslot >= 0 && fl.headData[fl.nextFreeslot] != 0 {
		fl.nextFreeslot--
	}

	return fl, nil
}

// pop returns the next free block reference, or 0 if the list is empty.
// Grounded on FreeList_pop: consume the head block's entries from the
// lowest occupied slot upward (ascending slot index from the cursor), or,
// once exhausted, consume the head block itself and advance to its next
// pointer.
func (fl *freelist) pop() (uint64, error) {
	if fl.headIdx == 0 {
		return 0, nil
	}

	for slot := fl.nextFreeslot + 1; slot < entriesPerFreeBlock; slot++ {
		cand := fl.headData[slot]
		if cand == 0 {
			continue
		}
		if err := fl.dev.Write(cand, zeroBlock()); err != nil {
			return 0, wrapErr("freelist.pop", EIO, err)
		}
		fl.headData[slot] = 0
		fl.nextFreeslot = slot
		if err := fl.writeBlockRefs(fl.headIdx, fl.headNext, fl.headData); err != nil {
			return 0, err
		}
		fl.sb.FreeBlocks--
		return cand, nil
	}

	// head block's data entries exhausted: the head block itself becomes
	// the returned block, advance to its next.
	fl.nextFreeslot = -1
	ret := fl.headIdx
	newHead := fl.headNext
	fl.sb.FlistHead = newHead
	if err := fl.sb.writeBack(); err != nil {
		return 0, err
	}
	fl.headIdx = newHead
	if newHead != 0 {
		next, data, err := fl.readBlockRefs(newHead)
		if err != nil {
			return 0, err
		}
		fl.headNext = next
		fl.headData = data
		fl.nextFreeslot = entriesPerFreeBlock - 1
		for fl.nextFreeslot >= 0 && fl.headData[fl.nextFreeslot] != 0 {
			fl.nextFreeslot--
		}
	} else {
		fl.headNext = 0
		fl.headData = [entriesPerFreeBlock]uint64{}
	}

	if ret != 0 {
		if err := fl.dev.Write(ret, zeroBlock()); err != nil {
			return 0, wrapErr("freelist.pop", EIO, err)
		}
	}
	fl.sb.FreeBlocks--
	return ret, nil
}

// append releases a block reference back onto the free list, grounded on
// FreeList_append. Rejects references outside [ilist_size+1, n_blocks).
func (fl *freelist) append(block uint64) (bool, error) {
	if block >= fl.sb.NBlocks || block <= fl.sb.IlistSize {
		return false, nil
	}

	if fl.headIdx == 0 {
		fl.headNext = 0
		fl.headData = [entriesPerFreeBlock]uint64{}
		fl.headIdx = block
		fl.sb.FlistHead = block
		if err := fl.sb.writeBack(); err != nil {
			return false, err
		}
		if err := fl.writeBlockRefs(block, 0, [entriesPerFreeBlock]uint64{}); err != nil {
			return false, err
		}
		fl.nextFreeslot = -1
		fl.sb.FreeBlocks++
		return true, nil
	}

	for slot := fl.nextFreeslot; slot >= 0; slot-- {
		if fl.headData[slot] == 0 {
			fl.headData[slot] = block
			fl.nextFreeslot = slot - 1
			if err := fl.writeBlockRefs(fl.headIdx, fl.headNext, fl.headData); err != nil {
				return false, err
			}
			fl.sb.FreeBlocks++
			return true, nil
		}
	}

	// no open slot: the released block becomes a new tail block.
	fl.nextFreeslot = -1
	if err := fl.updateTail(block); err != nil {
		return false, err
	}
	if err := fl.writeBlockRefs(block, 0, [entriesPerFreeBlock]uint64{}); err != nil {
		return false, err
	}
	fl.sb.FreeBlocks++
	return true, nil
}

// updateTail walks to the list's tail (caching it once found) and links
// newTail after it, grounded on __update_tail.
func (fl *freelist) updateTail(newTail uint64) error {
	if fl.headNext == 0 {
		fl.headNext = newTail
		return fl.writeBlockRefs(fl.headIdx, fl.headNext, fl.headData)
	}

	if fl.tailIdx == 0 {
		cur := fl.headIdx
		next := fl.headNext
		for next != 0 {
			cur = next
			n, _, err := fl.readBlockRefs(cur)
			if err != nil {
				return err
			}
			next = n
		}
		fl.tailIdx = cur
	}

	next, data, err := fl.readBlockRefs(fl.tailIdx)
	if err != nil {
		return err
	}
	_ = next
	if err := fl.writeBlockRefs(fl.tailIdx, newTail, data); err != nil {
		return err
	}
	fl.tailIdx = newTail
	return nil
}

// checkResult is the outcome of a free-list fsck pass.
type checkResult struct {
	Intact      bool
	FoundCount  uint64
	Expected    uint64
	Duplicates  []uint64
	Holes       []string
	UnreadableB []uint64
}

// check verifies free-list invariants against a caller-supplied expected
// set, grounded on FreeList_fsck: traverse the list, sort its
// membership, and detect duplicates/holes/size mismatch/unreadable blocks.
func check(dev *blockdev.Device, head uint64, expected []uint64) *checkResult {
	res := &checkResult{Expected: uint64(len(expected))}

	if head == 0 {
		res.Intact = len(expected) == 0
		return res
	}

	var found []uint64
	seen := make(map[uint64]bool)
	next := head
	for next != 0 {
		buf := make([]byte, BlockSize)
		if err := dev.Read(next, buf); err != nil {
			res.UnreadableB = append(res.UnreadableB, next)
			res.Intact = false
			return res
		}
		r := bytes.NewReader(buf)
		var nxt uint64
		var data [entriesPerFreeBlock]uint64
		binary.Read(r, binary.LittleEndian, &nxt)
		binary.Read(r, binary.LittleEndian, &data)

		if seen[next] {
			res.Duplicates = append(res.Duplicates, next)
		}
		seen[next] = true
		found = append(found, next)

		sawZero := false
		for i := entriesPerFreeBlock - 1; i >= 0; i-- {
			if data[i] == 0 {
				sawZero = true
				continue
			}
			if sawZero {
				res.Holes = append(res.Holes, fmtHole(next, i))
			}
			if seen[data[i]] {
				res.Duplicates = append(res.Duplicates, data[i])
			}
			seen[data[i]] = true
			found = append(found, data[i])
		}

		next = nxt
	}

	res.FoundCount = uint64(len(found))

	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	expSorted := append([]uint64(nil), expected...)
	sort.Slice(expSorted, func(i, j int) bool { return expSorted[i] < expSorted[j] })

	res.Intact = len(res.Duplicates) == 0 && len(res.Holes) == 0 &&
		len(res.UnreadableB) == 0 && uint64(len(expSorted)) == res.FoundCount

	if res.Intact {
		for i := range found {
			if found[i] != expSorted[i] {
				res.Intact = false
				break
			}
		}
	}

	return res
}

func fmtHole(block uint64, slot int) string {
	return fmt.Sprintf("block %d slot %d", block, slot)
}
