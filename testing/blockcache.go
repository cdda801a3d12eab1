package testing

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tjhancocks/imgtool/block"
)

// CreateRandomImage returns bytesPerBlock*totalBlocks random bytes, for
// tests that need backing storage they know isn't accidentally all zero.
func CreateRandomImage(bytesPerBlock, totalBlocks uint, t *testing.T) []byte {
	backingData := make([]byte, bytesPerBlock*totalBlocks)
	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d blocks of size %d with random bytes",
		totalBlocks,
		bytesPerBlock,
	)
	return backingData
}

// NewRandomDevice builds an in-memory block device seeded with random
// sector data, for round-trip and bounds tests that shouldn't rely on a
// device starting out zeroed.
func NewRandomDevice(t *testing.T, sectorSize, sectorCount uint32) *block.StreamDevice {
	t.Helper()
	dev := block.NewMemDevice(sectorSize, sectorCount)

	random := CreateRandomImage(uint(sectorSize), uint(sectorCount), t)
	for i := uint32(0); i < sectorCount; i++ {
		start := i * sectorSize
		require.NoError(t, dev.WriteSector(i, random[start:start+sectorSize]))
	}
	return dev
}
