package cofs

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/vga/cofs/blockdev"
)

// Superblock is the authoritative filesystem geometry and free-resource
// counters (spec §3), held as a single in-core copy. It is written back to
// block 0 whenever FlistHead changes and on Unmount; FreeBlocks and
// FreeInodes are updated in core only and reach disk with the next
// write-back, not on each change. Marshaling is
// explicit field-by-field rather than reflection-driven, since Volume has
// no fixed position a generic struct walk could discover on its own.
type Superblock struct {
	dev *blockdev.Device

	IlistSize  uint64
	NBlocks    uint64
	FlistHead  uint64
	RootDir    uint64
	FreeBlocks uint64
	FreeInodes uint64
	Volume     uuid.UUID // SPEC_FULL.md domain-stack addition, cosmetic
}

const superblockMagic = 0x434f4653 // "COFS"

// Load reads and parses the superblock from block 0.
func Load(dev *blockdev.Device) (*Superblock, error) {
	buf := make([]byte, blockdev.BlockSize)
	if err := dev.Read(0, buf); err != nil {
		return nil, wrapErr("superblock.load", EIO, err)
	}

	sb := &Superblock{dev: dev}
	if err := sb.unmarshal(buf); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *Superblock) unmarshal(buf []byte) error {
	r := bytes.NewReader(buf)
	var magic uint32
	binary.Read(r, binary.LittleEndian, &magic)
	if magic != superblockMagic {
		return newErr("superblock.load", EIO)
	}

	binary.Read(r, binary.LittleEndian, &sb.IlistSize)
	binary.Read(r, binary.LittleEndian, &sb.NBlocks)
	binary.Read(r, binary.LittleEndian, &sb.FlistHead)
	binary.Read(r, binary.LittleEndian, &sb.RootDir)
	binary.Read(r, binary.LittleEndian, &sb.FreeBlocks)
	binary.Read(r, binary.LittleEndian, &sb.FreeInodes)
	var vol [16]byte
	r.Read(vol[:])
	sb.Volume = uuid.UUID(vol)

	if sb.IlistSize >= sb.NBlocks {
		return newErr("superblock.load", EIO)
	}

	return nil
}

func (sb *Superblock) marshal() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(blockdev.BlockSize)

	binary.Write(buf, binary.LittleEndian, uint32(superblockMagic))
	binary.Write(buf, binary.LittleEndian, sb.IlistSize)
	binary.Write(buf, binary.LittleEndian, sb.NBlocks)
	binary.Write(buf, binary.LittleEndian, sb.FlistHead)
	binary.Write(buf, binary.LittleEndian, sb.RootDir)
	binary.Write(buf, binary.LittleEndian, sb.FreeBlocks)
	binary.Write(buf, binary.LittleEndian, sb.FreeInodes)
	buf.Write(sb.Volume[:])

	out := buf.Bytes()
	if len(out) < blockdev.BlockSize {
		out = append(out, make([]byte, blockdev.BlockSize-len(out))...)
	}
	return out[:blockdev.BlockSize]
}

// writeBack is the sole mutation egress (spec §4.2): it writes the in-core
// superblock to block 0.
func (sb *Superblock) writeBack() error {
	if err := sb.dev.Write(0, sb.marshal()); err != nil {
		return wrapErr("superblock.writeBack", EIO, err)
	}
	return nil
}

// DataBlocksStart is the first data block reference: 1 + IlistSize.
func (sb *Superblock) DataBlocksStart() uint64 {
	return 1 + sb.IlistSize
}
