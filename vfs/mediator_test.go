package vfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tjhancocks/imgtool/fat12"
	imgtesting "github.com/tjhancocks/imgtool/testing"
	"github.com/tjhancocks/imgtool/vfs"
)

func mount(t *testing.T) *vfs.Handle {
	t.Helper()
	handle, _ := imgtesting.MountFormattedImage(t, 2880, "TEST")
	return handle
}

func TestMount_StartsAtRoot(t *testing.T) {
	handle := mount(t)
	defer handle.Unmount()
	require.Equal(t, "/", handle.Pwd())
}

func TestMount_ProbeFindsFAT12Automatically(t *testing.T) {
	dev := imgtesting.NewFormattedImage(t, 2880, "TEST")

	handle, err := vfs.Mount(dev)
	require.NoError(t, err)
	defer handle.Unmount()
	require.Equal(t, "/", handle.Pwd())
}

func TestMkdir_NestedPathCreatesEveryComponent(t *testing.T) {
	handle := mount(t)
	defer handle.Unmount()

	require.NoError(t, handle.Mkdir("/A/B"))
	require.Equal(t, "/", handle.Pwd())

	require.NoError(t, handle.Cd("/A"))
	entries, err := handle.ListDirectory()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["B"])
}

func TestMkdir_FailsWhenComponentIsAFile(t *testing.T) {
	handle := mount(t)
	defer handle.Unmount()

	require.NoError(t, handle.Touch("A"))
	err := handle.Mkdir("/A/B")
	require.Error(t, err)
}

func TestWriteReadRemove_EndToEnd(t *testing.T) {
	handle := mount(t)
	defer handle.Unmount()

	payload := []byte("round trip")
	require.NoError(t, handle.Write("NOTES.TXT", payload, uint32(len(payload))))

	got, err := handle.Read("NOTES.TXT")
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NoError(t, handle.Remove("NOTES.TXT"))
	_, err = handle.Read("NOTES.TXT")
	require.Error(t, err)
}

func TestGetFile_RejectsDirectoryAndMissingIntermediate(t *testing.T) {
	handle := mount(t)
	defer handle.Unmount()

	require.NoError(t, handle.Mkdir("DIR"))
	_, err := handle.GetFile("/DIR")
	require.Error(t, err)

	_, err = handle.GetFile("/NOPE/FILE.TXT")
	require.Error(t, err)
}

func TestGetFile_DoesNotChangeCWD(t *testing.T) {
	handle := mount(t)
	defer handle.Unmount()

	require.NoError(t, handle.Mkdir("/A/B"))
	require.NoError(t, handle.Cd("/A"))
	require.NoError(t, handle.Touch("FILE.TXT"))

	_, err := handle.GetFile("/A/B")
	require.Error(t, err, "B is a directory, not a file")
	require.Equal(t, "/A", handle.Pwd(), "GetFile must not leave the cwd inside B")

	node, err := handle.GetFile("FILE.TXT")
	require.NoError(t, err)
	require.Equal(t, "FILE.TXT", node.Name)
	require.Equal(t, "/A", handle.Pwd())
}

func TestSectorCountOf_And_NthSectorOf(t *testing.T) {
	handle := mount(t)
	defer handle.Unmount()

	payload := make([]byte, fat12.SectorSize+1)
	require.NoError(t, handle.Write("BIG.BIN", payload, uint32(len(payload))))

	require.EqualValues(t, 2, handle.SectorCountOf("BIG.BIN"))
	require.NotEqual(t, vfs.NoSector, handle.NthSectorOf(0, "BIG.BIN"))
	require.NotEqual(t, vfs.NoSector, handle.NthSectorOf(1, "BIG.BIN"))
	require.Equal(t, vfs.NoSector, handle.NthSectorOf(2, "BIG.BIN"))
}

func TestSectorCountOf_MissingFile(t *testing.T) {
	handle := mount(t)
	defer handle.Unmount()
	require.EqualValues(t, 0, handle.SectorCountOf("NOPE.TXT"))
	require.Equal(t, vfs.NoSector, handle.NthSectorOf(0, "NOPE.TXT"))
}
