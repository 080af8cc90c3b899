package blockdev_test

import (
	"bytes"
	"testing"

	"github.com/vga/cofs/blockdev"
)

func TestCreateRejectsUnalignedSize(t *testing.T) {
	if _, err := blockdev.Create(blockdev.BlockSize + 1); err == nil {
		t.Fatal("expected an error for a size not a multiple of BlockSize")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev, err := blockdev.Create(4 * blockdev.BlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer dev.Close()

	want := bytes.Repeat([]byte{0xAB}, blockdev.BlockSize)
	if err := dev.Write(2, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make([]byte, blockdev.BlockSize)
	if err := dev.Read(2, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("read back data does not match what was written")
	}

	other := make([]byte, blockdev.BlockSize)
	if err := dev.Read(0, other); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if bytes.Equal(other, want) {
		t.Fatal("write to block 2 leaked into block 0")
	}
}

func TestReadWriteOutOfRange(t *testing.T) {
	dev, err := blockdev.Create(2 * blockdev.BlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer dev.Close()

	buf := make([]byte, blockdev.BlockSize)
	if err := dev.Read(2, buf); err != blockdev.ErrOutOfRange {
		t.Fatalf("Read(2): got %v, want ErrOutOfRange", err)
	}
	if err := dev.Write(100, buf); err != blockdev.ErrOutOfRange {
		t.Fatalf("Write(100): got %v, want ErrOutOfRange", err)
	}
}
