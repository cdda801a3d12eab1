package fat12_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tjhancocks/imgtool/block"
	"github.com/tjhancocks/imgtool/errors"
	"github.com/tjhancocks/imgtool/fat12"
	imgtesting "github.com/tjhancocks/imgtool/testing"
	"github.com/tjhancocks/imgtool/vfs"
)

func formattedDevice(t *testing.T, sectorCount uint32, label string) *block.StreamDevice {
	t.Helper()
	return imgtesting.NewFormattedImage(t, sectorCount, label)
}

func TestFormat_BootSectorConformance(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")

	sector, err := dev.ReadSector(0)
	require.NoError(t, err)

	require.Equal(t, byte(0x55), sector[510], "boot signature low byte")
	require.Equal(t, byte(0xAA), sector[511], "boot signature high byte")
	require.Equal(t, "FAT12   ", string(sector[54:62]), "filesystem type string")
	require.Equal(t, "TEST       ", string(sector[43:54]), "volume label field")

	fatSector, err := dev.ReadSector(1)
	require.NoError(t, err)
	require.Equal(t, []byte{0xF0, 0xFF, 0xFF}, fatSector[0:3], "packed FAT entries 0 and 1")
}

// TestFormat_FATMirrorsAreByteIdentical checks the two on-disk FAT copies
// match exactly after a write that allocates clusters, using the standard
// DOS 1.44 MiB layout (1 reserved sector, 9 sectors per FAT) so the second
// copy's sector range is known without reaching into driver internals.
func TestFormat_FATMirrorsAreByteIdentical(t *testing.T) {
	const sectorsPerFAT = 9
	const firstFATSector = 1
	const secondFATSector = firstFATSector + sectorsPerFAT

	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)

	require.NoError(t, handle.Write("A.TXT", []byte("hello"), 5))
	require.NoError(t, handle.Mkdir("SUBDIR"))
	require.NoError(t, handle.Unmount())

	for i := uint32(0); i < sectorsPerFAT; i++ {
		a, err := dev.ReadSector(firstFATSector + i)
		require.NoError(t, err)
		b, err := dev.ReadSector(secondFATSector + i)
		require.NoError(t, err)
		require.Equal(t, a, b, "FAT copies diverged at relative sector %d", i)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	payload := []byte("Hello, world!")
	require.NoError(t, handle.Write("HELLO.TXT", payload, uint32(len(payload))))

	got, err := handle.Read("HELLO.TXT")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestMkdirAndListDirectory(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	require.NoError(t, handle.Mkdir("C"))

	entries, err := handle.ListDirectory()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "C", entries[0].Name)
	require.True(t, entries[0].IsDirectory())

	require.NoError(t, handle.Cd("C"))
	require.Equal(t, "/C", handle.Pwd())

	entries, err = handle.ListDirectory()
	require.NoError(t, err)
	names := []string{entries[0].Name, entries[1].Name}
	require.ElementsMatch(t, []string{".", ".."}, names)
}

func TestClusterBoundaryAllocation(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	// One sector per cluster on a standard 1.44 MiB image, so a write one
	// byte past a single cluster's capacity must span exactly two clusters.
	payload := make([]byte, fat12.SectorSize+1)
	require.NoError(t, handle.Write("BIG.BIN", payload, uint32(len(payload))))

	require.EqualValues(t, 2, handle.SectorCountOf("BIG.BIN"))
}

func TestCdIntoNonexistentPath_PreservesPwd(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	require.NoError(t, handle.Mkdir("C"))
	require.NoError(t, handle.Cd("C"))
	require.Equal(t, "/C", handle.Pwd())

	err = handle.Cd("NOPE")
	require.Error(t, err)
	require.Equal(t, "/C", handle.Pwd(), "failed cd must not move the cwd")
}

func TestRootDirectory_NoSpaceBoundary(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	for i := 0; i < 224; i++ {
		name := fmt.Sprintf("F%03d", i)
		require.NoErrorf(t, handle.Touch(name), "entry %d should fit in a 224-entry root", i)
	}

	err = handle.Touch("ONEMORE")
	require.ErrorIs(t, err, errors.ErrNoSpaceOnDevice)
}

func TestDirectoryEntryState_RemoveLeavesTombstoneNotTerminator(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	require.NoError(t, handle.Touch("A.TXT"))
	require.NoError(t, handle.Touch("B.TXT"))
	require.NoError(t, handle.Remove("A.TXT"))

	// B.TXT must still be visible: removing A must not have truncated the
	// directory scan at A's now-freed slot.
	entries, err := handle.ListDirectory()
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.Contains(t, names, "B.TXT")
	require.NotContains(t, names, "A.TXT")
}

func TestTouch_IsIdempotentOnExistingFile(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	payload := []byte("keep me")
	require.NoError(t, handle.Write("A.TXT", payload, uint32(len(payload))))
	require.NoError(t, handle.Touch("A.TXT"))

	got, err := handle.Read("A.TXT")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestMkdir_IsIdempotentOnExistingDirectory(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	require.NoError(t, handle.Mkdir("C"))
	require.NoError(t, handle.Mkdir("C"))
	require.Equal(t, "/", handle.Pwd())
}

// TestWrite_NoSpaceDuringGrowth_LeavesOriginalFileIntact exercises the
// allocate-before-free ordering in Write: an 80-sector volume here has
// exactly 31 one-kilobyte data clusters. KEEP.TXT claims one, FILL.BIN
// claims the other thirty, leaving nothing free. Growing KEEP.TXT past a
// single cluster must fail with NoSpace without disturbing KEEP.TXT's
// existing chain or directory entry.
func TestWrite_NoSpaceDuringGrowth_LeavesOriginalFileIntact(t *testing.T) {
	dev := formattedDevice(t, 80, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	original := []byte("still here")
	require.NoError(t, handle.Write("KEEP.TXT", original, uint32(len(original))))

	filler := make([]byte, 30*1024)
	require.NoError(t, handle.Write("FILL.BIN", filler, uint32(len(filler))))

	bigger := make([]byte, 1025)
	err = handle.Write("KEEP.TXT", bigger, uint32(len(bigger)))
	require.ErrorIs(t, err, errors.ErrNoSpaceOnDevice)

	got, err := handle.Read("KEEP.TXT")
	require.NoError(t, err)
	require.Equal(t, original, got, "a failed growth must not touch the file's existing data")
}

func TestWrite_ZeroBytes(t *testing.T) {
	dev := formattedDevice(t, 2880, "TEST")
	handle, err := vfs.MountAs(dev, fat12.TypeName)
	require.NoError(t, err)
	defer handle.Unmount()

	require.NoError(t, handle.Write("EMPTY.TXT", nil, 0))

	got, err := handle.Read("EMPTY.TXT")
	require.NoError(t, err)
	require.Empty(t, got)
	require.EqualValues(t, 0, handle.SectorCountOf("EMPTY.TXT"))
}
