// Package fat12 implements a bit-exact driver for the classic DOS FAT12
// on-disk format: boot sector, two FAT copies, root directory, and data
// area, with cluster-chain allocation and 8.3 name handling.
package fat12

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"
	"github.com/tjhancocks/imgtool/errors"
)

const (
	// SectorSize is the only sector size this driver produces when
	// formatting; mounting tolerates whatever BytesPerSector the boot
	// sector declares, same as the original DOS driver.
	SectorSize = 512

	bootSignatureOffset = 510
	bootSignatureLo     = 0x55
	bootSignatureHi     = 0xAA

	fsTypeOffset = 54
	fsTypeString = "FAT12   "

	reservedSectors = 1
	numFATs         = 2

	// mediaDescriptorFloppy is the media byte DOS used for 3.5" high-density
	// floppies, the canonical FAT12 target and what the boot-sector
	// conformance tests in spec.md expect to see mirrored into FAT entry 0.
	mediaDescriptorFloppy = 0xF0
)

// rawBootSector is the on-disk layout of the FAT12 boot sector, exactly as
// classic DOS wrote it (little-endian throughout). It mirrors
// RawFATBootSectorWithBPB/RawFAT12BootSector from the FAT16/32-capable
// reference driver this one is distilled from, narrowed to the FAT12-only
// fields: no 4-byte sectors-per-FAT field, since FAT12 volumes never need
// it. The 4-byte total-sector field is kept for volumes over 0xFFFF sectors.
type rawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	DriveNumber       uint8
	NTReserved        uint8
	BootSignature     uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FileSystemType    [8]byte
}

// bootParams is the processed, derived form of the boot sector: everything
// the rest of the driver actually computes with.
type bootParams struct {
	raw rawBootSector

	sectorsPerFAT    uint32
	rootDirSectors   uint32
	firstFATSector   uint32
	secondFATSector  uint32
	firstRootSector  uint32
	firstDataSector  uint32
	totalSectors     uint32
	bytesPerCluster  uint32
	totalClusters    uint32
	direntsPerSector uint32
}

func (p *bootParams) bytesPerSector() uint32    { return uint32(p.raw.BytesPerSector) }
func (p *bootParams) sectorsPerCluster() uint32 { return uint32(p.raw.SectorsPerCluster) }
func (p *bootParams) rootEntryCount() uint32    { return uint32(p.raw.RootEntryCount) }
func (p *bootParams) volumeLabel() string {
	return string(bytes.TrimRight(p.raw.VolumeLabel[:], " "))
}

// decodeBootSector parses and validates a 512-byte boot sector.
func decodeBootSector(sector []byte) (*bootParams, error) {
	if len(sector) < SectorSize {
		return nil, errors.ErrFileSystemCorrupted.WithMessage("boot sector short read")
	}

	if sector[bootSignatureOffset] != bootSignatureLo || sector[bootSignatureOffset+1] != bootSignatureHi {
		return nil, errors.ErrFileSystemCorrupted.WithMessage("missing 0x55AA boot signature")
	}

	fsType := string(sector[fsTypeOffset : fsTypeOffset+8])
	if fsType != fsTypeString {
		return nil, errors.ErrFileSystemCorrupted.WithMessage("not a FAT12 volume")
	}

	var raw rawBootSector
	if err := binary.Read(bytes.NewReader(sector), binary.LittleEndian, &raw); err != nil {
		return nil, errors.ErrFileSystemCorrupted.WrapError(err)
	}

	if raw.BytesPerSector == 0 || raw.SectorsPerCluster == 0 || raw.NumFATs == 0 {
		return nil, errors.ErrFileSystemCorrupted.WithMessage("zero-valued BPB field")
	}

	sectorsPerFAT := uint32(raw.SectorsPerFAT16)
	totalSectors := uint32(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = raw.TotalSectors32
	}

	rootDirSectors := ((uint32(raw.RootEntryCount) * direntSize) + (uint32(raw.BytesPerSector) - 1)) /
		uint32(raw.BytesPerSector)

	firstFATSector := uint32(raw.ReservedSectors)
	secondFATSector := firstFATSector + sectorsPerFAT
	firstRootSector := secondFATSector + sectorsPerFAT
	firstDataSector := firstRootSector + rootDirSectors

	dataSectors := totalSectors - firstDataSector
	totalClusters := dataSectors / uint32(raw.SectorsPerCluster)

	params := &bootParams{
		raw:              raw,
		sectorsPerFAT:    sectorsPerFAT,
		rootDirSectors:   rootDirSectors,
		firstFATSector:   firstFATSector,
		secondFATSector:  secondFATSector,
		firstRootSector:  firstRootSector,
		firstDataSector:  firstDataSector,
		totalSectors:     totalSectors,
		bytesPerCluster:  uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster),
		totalClusters:    totalClusters,
		direntsPerSector: uint32(raw.BytesPerSector) / direntSize,
	}
	return params, nil
}

// encodeBootSector serializes params back into a 512-byte boot sector: the
// BPB/EBPB fields, a zeroed boot-code area, and the trailing 0x55AA
// signature. Format copies any boot code into that area afterwards.
func encodeBootSector(p *bootParams) []byte {
	buf := make([]byte, SectorSize)

	// bytewriter gives binary.Write a plain io.Writer over the fixed-size
	// sector buffer, so the struct fields land at the right offsets without
	// a separate bytes.Buffer + copy step.
	w := bytewriter.New(buf)
	binary.Write(w, binary.LittleEndian, &p.raw)

	buf[bootSignatureOffset] = bootSignatureLo
	buf[bootSignatureOffset+1] = bootSignatureHi
	return buf
}

// newBootParams computes the layout for a fresh FAT12 volume of the given
// geometry, following the classic DOS formatting rules: reserved sector 0
// is the boot sector, two FAT copies follow, then the root directory, then
// the data area.
func newBootParams(sectorSize uint16, sectorCount uint32, sectorsPerCluster uint8, rootEntryCount uint16, volumeLabel string, volumeID uint32) (*bootParams, error) {
	if rootEntryCount == 0 {
		return nil, errors.ErrInvalidArgument.WithMessage("rootEntryCount must be nonzero")
	}

	rootDirSectors := ((uint32(rootEntryCount) * direntSize) + (uint32(sectorSize) - 1)) / uint32(sectorSize)

	// Solve for sectorsPerFAT: each FAT entry packs into 1.5 bytes, and the
	// data region must hold totalClusters = dataSectors/sectorsPerCluster
	// clusters starting at 2. We iterate a couple of times since
	// sectorsPerFAT and totalClusters are mutually dependent, the same
	// fixed-point approach mkfs.fat uses for small volumes.
	sectorsPerFAT := uint32(1)
	for i := 0; i < 8; i++ {
		reserved := uint32(reservedSectors)
		dataSectors := sectorCount - reserved - (numFATs * sectorsPerFAT) - rootDirSectors
		totalClusters := dataSectors / uint32(sectorsPerCluster)

		neededEntries := totalClusters + 2
		neededBytes := (neededEntries*3 + 1) / 2
		needed := (neededBytes + uint32(sectorSize) - 1) / uint32(sectorSize)
		if needed == sectorsPerFAT {
			break
		}
		sectorsPerFAT = needed
	}

	raw := rawBootSector{
		JmpBoot:           [3]byte{0xEB, 0x3C, 0x90},
		OEMName:           [8]byte{'I', 'M', 'G', 'T', 'O', 'O', 'L', ' '},
		BytesPerSector:    sectorSize,
		SectorsPerCluster: sectorsPerCluster,
		ReservedSectors:   reservedSectors,
		NumFATs:           numFATs,
		RootEntryCount:    rootEntryCount,
		Media:             mediaDescriptorFloppy,
		SectorsPerFAT16:   uint16(sectorsPerFAT),
		SectorsPerTrack:   63,
		NumHeads:          2,
		DriveNumber:       0x80,
		BootSignature:     0x29,
		VolumeID:          volumeID,
	}
	if sectorCount <= 0xFFFF {
		raw.TotalSectors16 = uint16(sectorCount)
	} else {
		raw.TotalSectors32 = sectorCount
	}

	var label [11]byte
	for i := range label {
		label[i] = ' '
	}
	copy(label[:], []byte(volumeLabel))
	raw.VolumeLabel = label
	copy(raw.FileSystemType[:], []byte(fsTypeString))

	firstFATSector := uint32(reservedSectors)
	secondFATSector := firstFATSector + sectorsPerFAT
	firstRootSector := secondFATSector + sectorsPerFAT
	firstDataSector := firstRootSector + rootDirSectors
	dataSectors := sectorCount - firstDataSector
	totalClusters := dataSectors / uint32(sectorsPerCluster)

	return &bootParams{
		raw:              raw,
		sectorsPerFAT:    sectorsPerFAT,
		rootDirSectors:   rootDirSectors,
		firstFATSector:   firstFATSector,
		secondFATSector:  secondFATSector,
		firstRootSector:  firstRootSector,
		firstDataSector:  firstDataSector,
		totalSectors:     sectorCount,
		bytesPerCluster:  uint32(sectorSize) * uint32(sectorsPerCluster),
		totalClusters:    totalClusters,
		direntsPerSector: uint32(sectorSize) / direntSize,
	}, nil
}
