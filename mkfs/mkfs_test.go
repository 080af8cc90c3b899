package mkfs_test

import (
	"testing"

	"github.com/vga/cofs/blockdev"
	"github.com/vga/cofs/cofs"
	"github.com/vga/cofs/mkfs"
)

func TestFormatProducesMountableRoot(t *testing.T) {
	dev, err := blockdev.Create(128 * blockdev.BlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fs, err := mkfs.Format(dev, mkfs.Options{Uid: 501, Gid: 20})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	defer fs.Unmount()

	root, err := fs.Stat("/")
	if err != nil {
		t.Fatalf("Stat(/): %v", err)
	}
	if !root.IsDir() {
		t.Fatal("root inode is not a directory")
	}
	if root.NumDirEntries != 2 {
		t.Fatalf("root has %d entries, want 2 (. and ..)", root.NumDirEntries)
	}
	if root.Uid != 501 || root.Gid != 20 {
		t.Fatalf("root owner = %d:%d, want 501:20", root.Uid, root.Gid)
	}

	entries, err := fs.Readdir("/")
	if err != nil {
		t.Fatalf("Readdir(/): %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["."] || !names[".."] {
		t.Fatalf("root directory missing . or ..: %v", entries)
	}
}

func TestFormatSetsSuperblockGeometry(t *testing.T) {
	const numBlocks = 256
	dev, err := blockdev.Create(numBlocks * blockdev.BlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fs, err := mkfs.Format(dev, mkfs.Options{})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	defer fs.Unmount()

	sb, err := cofs.Load(dev)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	wantIlist := cofs.IlistSizeFor(numBlocks)
	if sb.IlistSize != wantIlist {
		t.Errorf("IlistSize = %d, want %d", sb.IlistSize, wantIlist)
	}
	if sb.NBlocks != numBlocks {
		t.Errorf("NBlocks = %d, want %d", sb.NBlocks, numBlocks)
	}
	if sb.FlistHead != wantIlist+1 {
		t.Errorf("FlistHead = %d, want %d", sb.FlistHead, wantIlist+1)
	}
}
