package fat12

import (
	"github.com/hashicorp/go-multierror"
	"github.com/tjhancocks/imgtool/block"
	"github.com/tjhancocks/imgtool/errors"
	"github.com/tjhancocks/imgtool/vfs"
)

// rollbackAllocation frees clusters and writes the FAT back after a failed
// CreateDir, so a half-finished allocation never lingers on disk. If
// the rollback's own writeBack fails too, both the original failure and the
// rollback failure are returned together instead of the rollback one
// silently winning.
func (d *Driver) rollbackAllocation(dev block.Device, clusters []uint32, cause error) error {
	d.fat.freeChain(clusters)
	if err := d.fat.writeBack(dev, d.params); err != nil {
		return multierror.Append(cause, err)
	}
	return cause
}

// rollbackResize undoes an in-progress Write's reallocation: it frees
// newClusters (the chain the failed step was trying to commit to) and
// relinks oldChain back into the exact chain it was before Write started
// freeing it, then persists the FAT. oldChain may be nil (the file had no
// data before) and newClusters may be nil (n == 0, nothing was allocated).
// If the persisting writeBack itself fails, the rollback failure is
// returned alongside the original cause rather than silently dropped.
func (d *Driver) rollbackResize(dev block.Device, newClusters, oldChain []uint32, cause error) error {
	d.fat.freeChain(newClusters)
	d.fat.relinkChain(oldChain)
	if err := d.fat.writeBack(dev, d.params); err != nil {
		return multierror.Append(cause, err)
	}
	return cause
}

// TypeName is the stable registry identifier for this backend.
const TypeName = "fat12"

// Driver implements vfs.Backend for the classic DOS FAT12 format.
type Driver struct {
	params *bootParams
	fat    *fatTable
	cwd    vfs.Node
}

// New constructs an unmounted FAT12 driver. Callers normally reach it
// indirectly through vfs.Mount/vfs.MountAs rather than calling this
// directly.
func New() *Driver {
	return &Driver{}
}

func init() {
	vfs.RegisterBackend(TypeName, func() vfs.Backend { return New() })
}

func (d *Driver) TypeName() string { return TypeName }

// Probe reads just enough of dev to check the 0x55AA signature and the
// "FAT12   " filesystem-type string, without disturbing any state.
func (d *Driver) Probe(dev block.Device) bool {
	sector, err := dev.ReadSector(0)
	if err != nil {
		return false
	}
	_, err = decodeBootSector(sector)
	return err == nil
}

// Mount reads the boot sector and the first FAT copy into memory, sets the
// driver up to serve operations, and positions the cached current directory
// at the root.
func (d *Driver) Mount(dev block.Device) error {
	sector, err := dev.ReadSector(0)
	if err != nil {
		return err
	}

	params, err := decodeBootSector(sector)
	if err != nil {
		return err
	}

	fatBytes, err := readSectors(dev, params.firstFATSector, params.sectorsPerFAT, params.bytesPerSector())
	if err != nil {
		return err
	}

	d.params = params
	d.fat = loadFATTable(fatBytes, params.totalClusters)
	d.cwd = vfs.RootNode()
	return nil
}

// Unmount flushes both FAT copies back to dev. FAT12 has no other durable
// in-memory state: directory writes are applied to disk immediately as
// they happen, per spec.md's "one API call = one consistent sequence of
// sector writes" resource model.
func (d *Driver) Unmount(dev block.Device) error {
	if d.fat == nil {
		return nil
	}
	return d.fat.writeBack(dev, d.params)
}

// Format zeroes dev, lays down a fresh boot sector, two matching FAT
// copies (with the reserved entry-0/entry-1 markers DOS expects), and a
// blank root directory region.
func (d *Driver) Format(dev block.Device, volumeLabel string, bootCode []byte) error {
	sectorSize := dev.SectorSize()
	sectorCount := dev.SectorCount()
	if sectorSize != SectorSize {
		return errors.ErrInvalidArgument.WithMessage("FAT12 requires 512-byte sectors")
	}

	sectorsPerCluster := chooseSectorsPerCluster(sectorCount)
	const defaultRootEntryCount = 224

	params, err := newBootParams(uint16(sectorSize), sectorCount, sectorsPerCluster, defaultRootEntryCount, volumeLabel, 0x12345678)
	if err != nil {
		return err
	}

	zero := make([]byte, sectorSize)
	for i := uint32(0); i < sectorCount; i++ {
		if err := dev.WriteSector(i, zero); err != nil {
			return err
		}
	}

	bootSector := encodeBootSector(params)
	if len(bootCode) > 0 {
		maxBootCode := bootSignatureOffset - 62
		n := len(bootCode)
		if n > maxBootCode {
			n = maxBootCode
		}
		copy(bootSector[62:], bootCode[:n])
		bootSector[bootSignatureOffset] = bootSignatureLo
		bootSector[bootSignatureOffset+1] = bootSignatureHi
	}
	if err := dev.WriteSector(0, bootSector); err != nil {
		return err
	}

	fat := newFATTable(params.sectorsPerFAT, params.bytesPerSector(), params.totalClusters)
	fat.set(0, uint16(mediaDescriptorFloppy)|0xF00)
	fat.set(1, clusterEOCHi)
	if err := fat.writeBack(dev, params); err != nil {
		return err
	}

	blankRoot := make([]byte, params.rootDirSectors*params.bytesPerSector())
	if err := writeSectors(dev, params.firstRootSector, blankRoot, params.bytesPerSector()); err != nil {
		return err
	}

	return nil
}

// chooseSectorsPerCluster picks a conventional cluster size for the given
// volume size, matching what DOS used for standard floppy geometries.
func chooseSectorsPerCluster(sectorCount uint32) uint8 {
	switch {
	case sectorCount <= 720*2: // up to 720K
		return 2
	case sectorCount <= 2880: // 1.44M
		return 1
	default:
		return 4
	}
}

// SetDirectory updates the cached current directory. dir == nil resets to
// root.
func (d *Driver) SetDirectory(dev block.Device, dir *vfs.Node) error {
	if dir == nil {
		d.cwd = vfs.RootNode()
		return nil
	}
	d.cwd = *dir
	return nil
}

func (d *Driver) CurrentDirectory() vfs.Node {
	return d.cwd
}

// directoryRegion returns the ordered list of sectors backing dir's
// contents: the fixed root region, or the (single-cluster) chain of a
// subdirectory.
func (d *Driver) directoryRegion(dir vfs.Node) ([]uint32, error) {
	if dir.FirstSector == 0 {
		sectors := make([]uint32, d.params.rootDirSectors)
		for i := range sectors {
			sectors[i] = d.params.firstRootSector + uint32(i)
		}
		return sectors, nil
	}

	cluster := d.sectorToCluster(dir.FirstSector)
	chain, err := d.fat.chain(cluster)
	if err != nil {
		return nil, err
	}

	sectors := make([]uint32, 0, uint32(len(chain))*d.params.sectorsPerCluster())
	for _, c := range chain {
		first := d.clusterToSector(c)
		for s := uint32(0); s < d.params.sectorsPerCluster(); s++ {
			sectors = append(sectors, first+s)
		}
	}
	return sectors, nil
}

func (d *Driver) clusterToSector(cluster uint32) uint32 {
	return d.params.firstDataSector + (cluster-2)*d.params.sectorsPerCluster()
}

func (d *Driver) sectorToCluster(sector uint32) uint32 {
	return (sector-d.params.firstDataSector)/d.params.sectorsPerCluster() + 2
}

// ListDirectory yields every live entry in the current directory, in
// on-disk scan order, skipping available (freed) slots and stopping at the
// first never-used slot (the end-of-directory terminator).
func (d *Driver) ListDirectory(dev block.Device) ([]vfs.Node, error) {
	sectors, err := d.directoryRegion(d.cwd)
	if err != nil {
		return nil, err
	}

	var nodes []vfs.Node
	for _, sector := range sectors {
		data, err := dev.ReadSector(sector)
		if err != nil {
			return nil, err
		}

		for off := uint32(0); off < uint32(len(data)); off += direntSize {
			raw := decodeRawDirent(data[off : off+direntSize])
			if raw.Name[0] == direntFree {
				return nodes, nil
			}
			if raw.Name[0] == direntAvailable {
				continue
			}

			node := nodeFromRaw(raw, origin{sector: sector, offset: off})
			node, err = d.resolveSectors(node, firstClusterOf(raw))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// resolveSectors fills in a node's FirstSector and Sectors fields given its
// raw first cluster number.
func (d *Driver) resolveSectors(node vfs.Node, firstCluster uint32) (vfs.Node, error) {
	if firstCluster == 0 {
		return node, nil
	}

	node.FirstSector = d.clusterToSector(firstCluster)

	chain, err := d.fat.chain(firstCluster)
	if err != nil {
		return node, err
	}

	sectors := make([]uint32, 0, uint32(len(chain))*d.params.sectorsPerCluster())
	for _, c := range chain {
		first := d.clusterToSector(c)
		for s := uint32(0); s < d.params.sectorsPerCluster(); s++ {
			sectors = append(sectors, first+s)
		}
	}
	node.Sectors = sectors
	return node, nil
}

// GetNode searches the current directory for name (case-insensitive,
// compared in canonical 8.3 form). If no live entry matches, it returns the
// first available (freed) slot so callers can reuse it, or else a node with
// State Unused (located at the end-of-directory terminator when the
// directory has one).
func (d *Driver) GetNode(dev block.Device, name string) (vfs.Node, error) {
	wantName, wantExt, err := encode8dot3(name)
	if err != nil {
		return vfs.Node{}, err
	}

	sectors, err := d.directoryRegion(d.cwd)
	if err != nil {
		return vfs.Node{}, err
	}

	var firstAvailable *vfs.Node

	for _, sector := range sectors {
		data, err := dev.ReadSector(sector)
		if err != nil {
			return vfs.Node{}, err
		}

		for off := uint32(0); off < uint32(len(data)); off += direntSize {
			raw := decodeRawDirent(data[off : off+direntSize])
			if raw.Name[0] == direntFree {
				if firstAvailable != nil {
					return *firstAvailable, nil
				}
				return vfs.Node{State: vfs.Unused}.WithOrigin(origin{sector: sector, offset: off}), nil
			}
			if raw.Name[0] == direntAvailable {
				if firstAvailable == nil {
					n := nodeFromRaw(raw, origin{sector: sector, offset: off})
					firstAvailable = &n
				}
				continue
			}

			if raw.Name == wantName && raw.Ext == wantExt {
				node := nodeFromRaw(raw, origin{sector: sector, offset: off})
				return d.resolveSectors(node, firstClusterOf(raw))
			}
		}
	}

	if firstAvailable != nil {
		return *firstAvailable, nil
	}
	return vfs.Node{State: vfs.Unused}, nil
}

// writeDirentAt writes a raw 32-byte record at loc, read-modify-write on
// its containing sector.
func (d *Driver) writeDirentAt(dev block.Device, loc origin, raw rawDirent) error {
	data, err := dev.ReadSector(loc.sector)
	if err != nil {
		return err
	}
	copy(data[loc.offset:loc.offset+direntSize], encodeRawDirent(raw))
	return dev.WriteSector(loc.sector, data)
}

// findFreeSlot returns the location of the first unused or available slot
// in the current directory, or ErrNoSpaceOnDevice if it's full.
func (d *Driver) findFreeSlot(dev block.Device) (origin, error) {
	sectors, err := d.directoryRegion(d.cwd)
	if err != nil {
		return origin{}, err
	}

	for _, sector := range sectors {
		data, err := dev.ReadSector(sector)
		if err != nil {
			return origin{}, err
		}
		for off := uint32(0); off < uint32(len(data)); off += direntSize {
			firstByte := data[off]
			if firstByte == direntFree || firstByte == direntAvailable {
				return origin{sector: sector, offset: off}, nil
			}
		}
	}
	return origin{}, errors.ErrNoSpaceOnDevice.WithMessage("directory is full")
}

// createEntry allocates a directory slot and writes a new entry with no
// data clusters allocated yet (first cluster 0, size 0).
func (d *Driver) createEntry(dev block.Device, name string, attrs vfs.Attr) (vfs.Node, error) {
	loc, err := d.findFreeSlot(dev)
	if err != nil {
		return vfs.Node{}, err
	}

	node := vfs.Node{Name: name, State: vfs.Used, Attributes: attrs}
	raw, err := rawFromNode(node, 0)
	if err != nil {
		return vfs.Node{}, err
	}
	if err := d.writeDirentAt(dev, loc, raw); err != nil {
		return vfs.Node{}, err
	}

	return node.WithOrigin(loc), nil
}

func (d *Driver) CreateFile(dev block.Device, name string, attrs vfs.Attr) (vfs.Node, error) {
	return d.createEntry(dev, name, attrs&^vfs.AttrDirectory)
}

// CreateDir creates a subdirectory: a new entry whose first cluster is a
// freshly allocated cluster containing "." and ".." entries.
func (d *Driver) CreateDir(dev block.Device, name string, attrs vfs.Attr) (vfs.Node, error) {
	loc, err := d.findFreeSlot(dev)
	if err != nil {
		return vfs.Node{}, err
	}

	clusters, err := d.fat.allocate(1)
	if err != nil {
		return vfs.Node{}, err
	}
	firstCluster := clusters[0]

	if err := d.fat.writeBack(dev, d.params); err != nil {
		d.fat.freeChain(clusters)
		return vfs.Node{}, err
	}

	if err := d.zeroCluster(dev, firstCluster); err != nil {
		return vfs.Node{}, d.rollbackAllocation(dev, clusters, err)
	}

	if err := d.writeDotEntries(dev, firstCluster, d.cwd); err != nil {
		return vfs.Node{}, d.rollbackAllocation(dev, clusters, err)
	}

	node := vfs.Node{Name: name, State: vfs.Used, Attributes: attrs | vfs.AttrDirectory}
	raw, err := rawFromNode(node, firstCluster)
	if err != nil {
		return vfs.Node{}, d.rollbackAllocation(dev, clusters, err)
	}
	if err := d.writeDirentAt(dev, loc, raw); err != nil {
		return vfs.Node{}, d.rollbackAllocation(dev, clusters, err)
	}

	node.FirstSector = d.clusterToSector(firstCluster)
	node.Sectors = d.sectorsOfCluster(firstCluster)
	return node.WithOrigin(loc), nil
}

func (d *Driver) sectorsOfCluster(cluster uint32) []uint32 {
	first := d.clusterToSector(cluster)
	sectors := make([]uint32, d.params.sectorsPerCluster())
	for i := range sectors {
		sectors[i] = first + uint32(i)
	}
	return sectors
}

func (d *Driver) zeroCluster(dev block.Device, cluster uint32) error {
	zero := make([]byte, d.params.bytesPerSector())
	for _, sector := range d.sectorsOfCluster(cluster) {
		if err := dev.WriteSector(sector, zero); err != nil {
			return err
		}
	}
	return nil
}

// writeDotEntries writes "." (pointing at newCluster) and ".." (pointing
// at parent's first cluster, or 0 for root) into the first sector of a
// freshly allocated directory cluster.
func (d *Driver) writeDotEntries(dev block.Device, newCluster uint32, parent vfs.Node) error {
	sector := d.clusterToSector(newCluster)
	data, err := dev.ReadSector(sector)
	if err != nil {
		return err
	}

	parentCluster := uint32(0)
	if parent.FirstSector != 0 {
		parentCluster = d.sectorToCluster(parent.FirstSector)
	}

	dotRaw, err := rawFromNode(vfs.Node{Name: ".", Attributes: vfs.AttrDirectory}, newCluster)
	if err != nil {
		return err
	}
	dotdotRaw, err := rawFromNode(vfs.Node{Name: "..", Attributes: vfs.AttrDirectory}, parentCluster)
	if err != nil {
		return err
	}

	copy(data[0:direntSize], encodeRawDirent(dotRaw))
	copy(data[direntSize:2*direntSize], encodeRawDirent(dotdotRaw))
	return dev.WriteSector(sector, data)
}

// Write truncates name's existing chain (if any), allocates a fresh chain
// sized to hold n bytes, writes the payload sector by sector (zero-padding
// the tail of the last cluster), and updates the directory entry. The old
// chain is only freed once the new allocation has actually succeeded, so a
// failed allocation leaves the FAT exactly as it was -- still agreeing with
// the directory entry, which is untouched until the very end.
func (d *Driver) Write(dev block.Device, name string, data []byte, n uint32) error {
	node, err := d.GetNode(dev, name)
	if err != nil {
		return err
	}
	if node.State != vfs.Used {
		return errors.ErrNotFound.WithMessage(name)
	}
	loc := node.Origin().(origin)

	raw, err := d.readRawAt(dev, loc)
	if err != nil {
		return err
	}
	oldFirstCluster := firstClusterOf(raw)

	var oldChain []uint32
	if oldFirstCluster != 0 {
		oldChain, err = d.fat.chain(oldFirstCluster)
		if err != nil {
			return err
		}
	}

	var newFirstCluster uint32
	var newClusters []uint32
	if n > 0 {
		clustersNeeded := (n + d.params.bytesPerCluster() - 1) / d.params.bytesPerCluster()
		clusters, err := d.fat.allocate(clustersNeeded)
		if err != nil {
			// Nothing has been freed or persisted yet: oldChain is still
			// linked and marked used, matching the still-unchanged dirent.
			return err
		}
		newClusters = clusters

		d.fat.freeChain(oldChain)
		if err := d.fat.writeBack(dev, d.params); err != nil {
			return d.rollbackResize(dev, newClusters, oldChain, errors.ErrFileSystemCorrupted.WrapError(err))
		}

		if err := d.writePayload(dev, clusters, data, n); err != nil {
			return d.rollbackResize(dev, newClusters, oldChain, err)
		}
		newFirstCluster = clusters[0]
	} else {
		d.fat.freeChain(oldChain)
		if err := d.fat.writeBack(dev, d.params); err != nil {
			return d.rollbackResize(dev, nil, oldChain, errors.ErrFileSystemCorrupted.WrapError(err))
		}
	}

	raw.FirstClusterLow = uint16(newFirstCluster)
	raw.FileSize = n
	if err := d.writeDirentAt(dev, loc, raw); err != nil {
		return d.rollbackResize(dev, newClusters, oldChain, err)
	}
	return nil
}

func (d *Driver) writePayload(dev block.Device, clusters []uint32, data []byte, n uint32) error {
	bytesPerCluster := d.params.bytesPerCluster()
	written := uint32(0)

	for _, cluster := range clusters {
		buf := make([]byte, bytesPerCluster)
		remaining := n - written
		if remaining > bytesPerCluster {
			remaining = bytesPerCluster
		}
		copy(buf, data[written:written+remaining])
		written += remaining

		for i, sector := range d.sectorsOfCluster(cluster) {
			chunk := buf[uint32(i)*d.params.bytesPerSector() : (uint32(i)+1)*d.params.bytesPerSector()]
			if err := dev.WriteSector(sector, chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) readRawAt(dev block.Device, loc origin) (rawDirent, error) {
	data, err := dev.ReadSector(loc.sector)
	if err != nil {
		return rawDirent{}, err
	}
	return decodeRawDirent(data[loc.offset : loc.offset+direntSize]), nil
}

// Read follows name's cluster chain and returns exactly Size bytes.
func (d *Driver) Read(dev block.Device, name string) ([]byte, error) {
	node, err := d.GetNode(dev, name)
	if err != nil {
		return nil, err
	}
	if node.State != vfs.Used {
		return nil, errors.ErrNotFound.WithMessage(name)
	}
	if node.Size == 0 {
		return []byte{}, nil
	}

	result := make([]byte, 0, node.Size)
	for _, sector := range node.Sectors {
		data, err := dev.ReadSector(sector)
		if err != nil {
			return nil, err
		}
		result = append(result, data...)
	}
	return result[:node.Size], nil
}

// Remove frees name's entire cluster chain and marks its directory entry
// available. The 0x00 end-of-directory terminator is never written here --
// only ever an 0xE5 tombstone, so directory-scan order for entries after it
// is preserved.
func (d *Driver) Remove(dev block.Device, name string) error {
	node, err := d.GetNode(dev, name)
	if err != nil {
		return err
	}
	if node.State != vfs.Used {
		return errors.ErrNotFound.WithMessage(name)
	}
	loc := node.Origin().(origin)

	raw, err := d.readRawAt(dev, loc)
	if err != nil {
		return err
	}

	if firstCluster := firstClusterOf(raw); firstCluster != 0 {
		chain, err := d.fat.chain(firstCluster)
		if err != nil {
			return err
		}
		d.fat.freeChain(chain)
		if err := d.fat.writeBack(dev, d.params); err != nil {
			return errors.ErrFileSystemCorrupted.WrapError(err)
		}
	}

	raw.Name[0] = direntAvailable
	return d.writeDirentAt(dev, loc, raw)
}
