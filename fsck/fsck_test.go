package fsck_test

import (
	"testing"

	"github.com/vga/cofs/blockdev"
	"github.com/vga/cofs/cofs"
	"github.com/vga/cofs/fsck"
	"github.com/vga/cofs/mkfs"
)

func TestCheckOnFreshVolume(t *testing.T) {
	dev, err := blockdev.Create(128 * blockdev.BlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fs, err := mkfs.Format(dev, mkfs.Options{})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	if _, err := fs.Create("/a.txt", cofs.PermOwnerR|cofs.PermOwnerW, 0, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Every mutation above already landed in the anonymous mapping backing
	// dev, so fsck can inspect it directly without closing the mount.
	report, err := fsck.Check(dev)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !report.OK() {
		t.Fatalf("fresh volume reported problems: %v", report.Problems)
	}
}
