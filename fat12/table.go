package fat12

import (
	"github.com/boljen/go-bitmap"
	"github.com/tjhancocks/imgtool/block"
	"github.com/tjhancocks/imgtool/errors"
)

// Reserved/free/EOC markers for 12-bit FAT entries.
const (
	clusterFree       = 0x000
	clusterFirstUsed  = 0x002
	clusterLastUsed   = 0xFEF
	clusterReservedLo = 0xFF0
	clusterReservedHi = 0xFF6
	clusterBad        = 0xFF7
	clusterEOCLo      = 0xFF8
	clusterEOCHi      = 0xFFF
)

// fatTable is the in-memory copy of one FAT, plus a free-cluster bitmap
// kept in lockstep for O(1) "is this cluster free" checks and a fast
// first-fit scan. The bitmap is a pure acceleration structure, rebuilt from
// the table on mount; the packed table bytes remain the durable source of
// truth that's actually written to both on-disk FAT copies.
type fatTable struct {
	bytes         []byte
	totalClusters uint32
	free          bitmap.Bitmap
}

func newFATTable(sectorsPerFAT, bytesPerSector, totalClusters uint32) *fatTable {
	t := &fatTable{
		bytes:         make([]byte, sectorsPerFAT*bytesPerSector),
		totalClusters: totalClusters,
		free:          bitmap.New(int(totalClusters + 2)),
	}
	for cluster := uint32(2); cluster < totalClusters+2; cluster++ {
		t.free.Set(int(cluster), true)
	}
	return t
}

// loadFATTable builds a fatTable from raw on-disk bytes and rebuilds the
// free-cluster bitmap by scanning every entry once.
func loadFATTable(raw []byte, totalClusters uint32) *fatTable {
	t := &fatTable{
		bytes:         raw,
		totalClusters: totalClusters,
		free:          bitmap.New(int(totalClusters + 2)),
	}
	for cluster := uint32(2); cluster < totalClusters+2; cluster++ {
		t.free.Set(int(cluster), t.get(cluster) == clusterFree)
	}
	return t
}

// get returns the raw 12-bit value of FAT entry n.
func (t *fatTable) get(n uint32) uint16 {
	offset := (n >> 1) * 3
	if n&1 == 0 {
		return uint16(t.bytes[offset]) | (uint16(t.bytes[offset+1]&0x0F) << 8)
	}
	return (uint16(t.bytes[offset+1]) >> 4) | (uint16(t.bytes[offset+2]) << 4)
}

// set writes the 12-bit value into FAT entry n and keeps the free bitmap in
// sync (for n >= 2, entry n is free iff value == clusterFree).
func (t *fatTable) set(n uint32, value uint16) {
	offset := (n >> 1) * 3
	if n&1 == 0 {
		t.bytes[offset] = byte(value & 0xFF)
		t.bytes[offset+1] = (t.bytes[offset+1] & 0xF0) | byte((value>>8)&0x0F)
	} else {
		t.bytes[offset+1] = (t.bytes[offset+1] & 0x0F) | byte((value&0x0F)<<4)
		t.bytes[offset+2] = byte(value >> 4)
	}

	if n >= 2 {
		t.free.Set(int(n), value == clusterFree)
	}
}

func isEndOfChain(value uint16) bool {
	return value >= clusterEOCLo && value <= clusterEOCHi
}

func isReservedOrBad(value uint16) bool {
	return (value >= clusterReservedLo && value <= clusterReservedHi) || value == clusterBad
}

func isValidDataCluster(value uint16) bool {
	return value >= clusterFirstUsed && value <= clusterLastUsed
}

// chain follows the cluster chain beginning at start and returns every
// cluster in order. Encountering a reserved/bad value mid-chain is
// corruption, not end-of-chain.
func (t *fatTable) chain(start uint32) ([]uint32, error) {
	if start < 2 {
		return nil, nil
	}

	var clusters []uint32
	current := start
	for i := uint32(0); i < t.totalClusters+1; i++ {
		clusters = append(clusters, current)

		next := t.get(current)
		if isEndOfChain(next) {
			return clusters, nil
		}
		if isReservedOrBad(next) || !isValidDataCluster(next) {
			return clusters, errors.ErrFileSystemCorrupted.WithMessage("invalid cluster in chain")
		}
		current = uint32(next)
	}
	return clusters, errors.ErrFileSystemCorrupted.WithMessage("cluster chain did not terminate")
}

// allocate finds `count` free clusters (not necessarily contiguous), links
// them into a chain terminated by end-of-chain, marks them used, and
// returns the chain in order. On NoSpace it returns the error without having
// marked any cluster used.
func (t *fatTable) allocate(count uint32) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}

	claimed := make([]uint32, 0, count)
	for cluster := uint32(2); cluster < t.totalClusters+2 && uint32(len(claimed)) < count; cluster++ {
		if t.free.Get(int(cluster)) {
			claimed = append(claimed, cluster)
		}
	}

	if uint32(len(claimed)) < count {
		return nil, errors.ErrNoSpaceOnDevice.WithMessage("FAT exhausted")
	}

	t.relinkChain(claimed)
	return claimed, nil
}

// relinkChain writes chain's forward pointers so each cluster points at the
// next and the last is terminated with end-of-chain, the same linking
// allocate does for freshly claimed clusters. It's also how a caller undoes
// an in-memory freeChain on a rollback path: relinking restores exactly the
// chain that was there before, since chain is already in on-disk order.
func (t *fatTable) relinkChain(chain []uint32) {
	for i, cluster := range chain {
		if i == len(chain)-1 {
			t.set(cluster, clusterEOCHi)
		} else {
			t.set(cluster, uint16(chain[i+1]))
		}
	}
}

// freeChain releases every cluster in chain back to the free pool.
func (t *fatTable) freeChain(chain []uint32) {
	for _, cluster := range chain {
		t.set(cluster, clusterFree)
	}
}

// writeBack serializes both mirrored FAT copies to dev. Both copies are
// always written from the same in-memory buffer, so they can never drift.
func (t *fatTable) writeBack(dev block.Device, p *bootParams) error {
	if err := writeSectors(dev, p.firstFATSector, t.bytes, p.bytesPerSector()); err != nil {
		return err
	}
	return writeSectors(dev, p.secondFATSector, t.bytes, p.bytesPerSector())
}

// writeSectors writes data (a multiple of sectorSize) across consecutive
// sectors of dev starting at firstSector.
func writeSectors(dev block.Device, firstSector uint32, data []byte, sectorSize uint32) error {
	count := (uint32(len(data)) + sectorSize - 1) / sectorSize
	padded := data
	if uint32(len(data)) != count*sectorSize {
		padded = make([]byte, count*sectorSize)
		copy(padded, data)
	}

	for i := uint32(0); i < count; i++ {
		sector := padded[i*sectorSize : (i+1)*sectorSize]
		if err := dev.WriteSector(firstSector+i, sector); err != nil {
			return err
		}
	}
	return nil
}

// readSectors reads count consecutive sectors from dev starting at
// firstSector and concatenates them.
func readSectors(dev block.Device, firstSector, count, sectorSize uint32) ([]byte, error) {
	buf := make([]byte, 0, count*sectorSize)
	for i := uint32(0); i < count; i++ {
		sector, err := dev.ReadSector(firstSector + i)
		if err != nil {
			return nil, err
		}
		buf = append(buf, sector...)
	}
	return buf, nil
}
