// Package testing holds fixtures shared by the block, vfs, and fat12 test
// suites: building in-memory block devices and formatted FAT12 images
// without touching the filesystem.
package testing

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tjhancocks/imgtool/block"
	"github.com/tjhancocks/imgtool/fat12"
	"github.com/tjhancocks/imgtool/vfs"
)

// NewBlankImage returns an in-memory block device of the given geometry,
// every sector zeroed.
func NewBlankImage(t *testing.T, sectorSize, sectorCount uint32) *block.StreamDevice {
	t.Helper()
	return block.NewMemDevice(sectorSize, sectorCount)
}

// NewFormattedImage returns an in-memory 512-byte-sector device already
// formatted as FAT12 with the given volume label, ready to mount.
func NewFormattedImage(t *testing.T, sectorCount uint32, volumeLabel string) *block.StreamDevice {
	t.Helper()
	dev := block.NewMemDevice(fat12.SectorSize, sectorCount)

	driver := fat12.New()
	require.NoError(t, driver.Format(dev, volumeLabel, nil), "formatting fixture image")
	return dev
}

// MountFormattedImage formats a fresh image and mounts it through the VFS
// mediator in one step, for tests that exercise vfs.Handle directly.
func MountFormattedImage(t *testing.T, sectorCount uint32, volumeLabel string) (*vfs.Handle, *block.StreamDevice) {
	t.Helper()
	dev := NewFormattedImage(t, sectorCount, volumeLabel)

	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err, "mounting fixture image")
	return handle, dev
}
