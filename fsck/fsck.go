// Package fsck verifies the structural invariants of a COFS volume,
// grounded on original_source/cofs_fsck.c: superblock parameter
// consistency, i-list type-field sanity, and free-list integrity.
package fsck

import (
	"fmt"

	"github.com/vga/cofs/blockdev"
	"github.com/vga/cofs/cofs"
)

// Problem is a single inconsistency found during a check pass.
type Problem struct {
	Area    string // "superblock", "ilist", "freelist"
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Area, p.Message)
}

// Report is the outcome of a full Check pass.
type Report struct {
	Problems []Problem
}

func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) add(area, format string, args ...any) {
	r.Problems = append(r.Problems, Problem{Area: area, Message: fmt.Sprintf(format, args...)})
}

// Check runs every structural verification pass against dev and returns a
// report of what it found, grounded on cofs_fsck.c's fsck_in_mem.
func Check(dev *blockdev.Device) (*Report, error) {
	report := &Report{}

	sb, err := cofs.Load(dev)
	if err != nil {
		return nil, err
	}

	checkSuperblockParams(report, dev, sb)
	if err := checkIlist(report, dev, sb); err != nil {
		return nil, err
	}
	if err := checkFreeList(report, dev, sb); err != nil {
		return nil, err
	}

	return report, nil
}

// checkSuperblockParams re-derives the expected geometry from the
// device's raw block count and compares it against the stored
// superblock, grounded on __fsck_check_fs_params.
func checkSuperblockParams(report *Report, dev *blockdev.Device, sb *cofs.Superblock) {
	expectedIlistSize := cofs.IlistSizeFor(dev.NumBlocks)
	expectedFlistHead := expectedIlistSize + 1
	expectedDataBlocks := dev.NumBlocks - (1 + expectedIlistSize)

	if sb.IlistSize != expectedIlistSize {
		report.add("superblock", "ilist_size is %d, expected %d", sb.IlistSize, expectedIlistSize)
	}
	if sb.NBlocks != dev.NumBlocks {
		report.add("superblock", "n_blocks is %d, expected %d", sb.NBlocks, dev.NumBlocks)
	}
	if sb.FlistHead != expectedFlistHead {
		report.add("superblock", "flist_head is %d, expected %d", sb.FlistHead, expectedFlistHead)
	}
	if dev.NumBlocks != 1+expectedIlistSize+expectedDataBlocks {
		report.add("superblock", "block accounting does not sum to n_blocks")
	}
}

// checkIlist walks every inode slot and flags any whose type field is out
// of range or whose data blocks fall outside the valid data region,
// grounded on __fsck_check_ilist/__fsck_check_inode.
func checkIlist(report *Report, dev *blockdev.Device, sb *cofs.Superblock) error {
	total := sb.IlistSize * cofs.InodesPerBlock
	for inum := uint64(0); inum < total; inum++ {
		ino, err := cofs.ReadInodeDirect(dev, sb, inum)
		if err != nil {
			return err
		}
		if !ino.InUse {
			continue
		}

		switch ino.Type {
		case cofs.TypeFile, cofs.TypeDir, cofs.TypeSpecial, cofs.TypeSymlink:
		default:
			report.add("ilist", "inode %d has invalid type %d", inum, ino.Type)
			continue
		}

		if ino.Type == cofs.TypeSymlink {
			continue
		}

		err = cofs.ForEachDataBlockDirect(dev, ino, func(block uint64) error {
			if block >= sb.NBlocks || block < sb.DataBlocksStart() {
				report.add("ilist", "inode %d references out-of-range data block %d", inum, block)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// checkFreeList verifies the free list has no duplicate or missing
// entries relative to every block not reachable from a live inode,
// grounded on the (stubbed, in the original) FreeList_fsck hookup.
func checkFreeList(report *Report, dev *blockdev.Device, sb *cofs.Superblock) error {
	inUse := make(map[uint64]bool)
	total := sb.IlistSize * cofs.InodesPerBlock
	for inum := uint64(0); inum < total; inum++ {
		ino, err := cofs.ReadInodeDirect(dev, sb, inum)
		if err != nil {
			return err
		}
		if !ino.InUse || ino.Type == cofs.TypeSymlink {
			continue
		}
		if err := cofs.ForEachDataBlockDirect(dev, ino, func(block uint64) error {
			inUse[block] = true
			return nil
		}); err != nil {
			return err
		}
	}

	var expectedFree []uint64
	for b := sb.DataBlocksStart(); b < sb.NBlocks; b++ {
		if !inUse[b] {
			expectedFree = append(expectedFree, b)
		}
	}

	res := cofs.CheckFreeList(dev, sb.FlistHead, expectedFree)
	if !res.Intact {
		if len(res.Duplicates) > 0 {
			report.add("freelist", "%d duplicate block reference(s) found", len(res.Duplicates))
		}
		if len(res.Holes) > 0 {
			report.add("freelist", "%d hole(s) found in packed free-list blocks", len(res.Holes))
		}
		if len(res.UnreadableB) > 0 {
			report.add("freelist", "%d unreadable block(s) in chain", len(res.UnreadableB))
		}
		if res.FoundCount != res.Expected {
			report.add("freelist", "found %d free blocks, expected %d", res.FoundCount, res.Expected)
		}
	}

	return nil
}
