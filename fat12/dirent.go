package fat12

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/noxer/bytewriter"
	"github.com/tjhancocks/imgtool/errors"
	"github.com/tjhancocks/imgtool/vfs"
)

const direntSize = 32

const (
	direntFree        = 0x00
	direntAvailable   = 0xE5
	direntKanjiEscape = 0x05 // first byte really is 0xE5, escaped
)

// fatEpoch is 1980-01-01, the earliest representable FAT timestamp.
var fatEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// rawDirent is the on-disk 32-byte directory entry record.
type rawDirent struct {
	Name             [8]byte
	Ext              [3]byte
	Attr             uint8
	Reserved         [10]byte
	ModTime          uint16
	ModDate          uint16
	FirstClusterLow  uint16
	FileSize         uint32
}

// origin records exactly where a live directory entry lives on disk, so a
// later Write/Remove can update it in place without a fresh directory scan.
type origin struct {
	// dirFirstCluster is 0 for the fixed-size FAT12 root directory, or the
	// first cluster of a subdirectory's chain otherwise.
	dirFirstCluster uint32
	// sector and offset locate the exact 32-byte slot within the directory
	// region.
	sector uint32
	offset uint32
}

// encode8dot3 canonicalizes name into the 8.3 uppercase, space-padded,
// no-dot storage form FAT expects.
func encode8dot3(name string) ([8]byte, [3]byte, error) {
	if name == "" || name == "." || name == ".." {
		return dotEntry(name)
	}

	base := name
	ext := ""
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		base = name[:idx]
		ext = name[idx+1:]
	}

	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)

	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return [8]byte{}, [3]byte{}, errors.ErrInvalidName.WithMessage(name)
	}
	for _, r := range base + ext {
		if !isValid83Rune(r) {
			return [8]byte{}, [3]byte{}, errors.ErrInvalidName.WithMessage(name)
		}
	}

	var rawName [8]byte
	var rawExt [3]byte
	for i := range rawName {
		rawName[i] = ' '
	}
	for i := range rawExt {
		rawExt[i] = ' '
	}
	copy(rawName[:], base)
	copy(rawExt[:], ext)
	return rawName, rawExt, nil
}

// dotEntry handles the special "." and ".." directory entries, which are
// stored left-justified, padded with trailing spaces, and never carry an
// extension.
func dotEntry(name string) ([8]byte, [3]byte, error) {
	var rawName [8]byte
	for i := range rawName {
		rawName[i] = ' '
	}
	copy(rawName[:], name)
	return rawName, [3]byte{' ', ' ', ' '}, nil
}

func isValid83Rune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("!#$%&'()-@^_`{}~", r):
		return true
	}
	return false
}

// decode8dot3 renders the stored name/extension back into "NAME.EXT" form
// (no extension becomes just "NAME").
func decode8dot3(rawName [8]byte, rawExt [3]byte) string {
	name := strings.TrimRight(string(rawName[:]), " ")
	ext := strings.TrimRight(string(rawExt[:]), " ")
	if name == "" {
		return ""
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// dateToFAT packs a time.Time into FAT's 16-bit date encoding.
func dateToFAT(t time.Time) uint16 {
	if t.Before(fatEpoch) {
		t = fatEpoch
	}
	y := uint16(t.Year() - 1980)
	return (y << 9) | (uint16(t.Month()) << 5) | uint16(t.Day())
}

// timeToFAT packs a time.Time into FAT's 16-bit time-of-day encoding (2
// second resolution).
func timeToFAT(t time.Time) uint16 {
	return (uint16(t.Hour()) << 11) | (uint16(t.Minute()) << 5) | uint16(t.Second()/2)
}

// dateFromFAT unpacks FAT's 16-bit date encoding into a time.Time (at
// midnight UTC).
func dateFromFAT(value uint16) time.Time {
	day := int(value & 0x1F)
	month := time.Month((value >> 5) & 0x0F)
	year := 1980 + int(value>>9)
	if day == 0 {
		day = 1
	}
	if month == 0 {
		month = time.January
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func timeFromFAT(date, t uint16) time.Time {
	d := dateFromFAT(date)
	hour := int(t >> 11)
	minute := int((t >> 5) & 0x3F)
	second := int(t&0x1F) * 2
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, second, 0, time.UTC)
}

// nodeFromRaw converts a decoded rawDirent into an owned vfs.Node snapshot.
// It does not populate Sectors -- the caller resolves the cluster chain
// separately, since that requires access to the live FAT table.
func nodeFromRaw(raw rawDirent, loc origin) vfs.Node {
	firstByte := raw.Name[0]

	state := vfs.Used
	if firstByte == direntFree {
		state = vfs.Unused
	} else if firstByte == direntAvailable {
		state = vfs.Available
	}

	name := decode8dot3(raw.Name, raw.Ext)
	if state == vfs.Available && len(name) > 0 {
		// The real first character was overwritten by the 0xE5 tombstone;
		// it isn't recoverable, so present the name with the DOS
		// convention of substituting '?' for display purposes only.
		name = "?" + name[1:]
	}

	return vfs.Node{
		Name:         name,
		State:        state,
		Attributes:   vfs.Attr(raw.Attr),
		Size:         raw.FileSize,
		FirstSector:  0,
		CreatedAt:    timeFromFAT(raw.ModDate, raw.ModTime),
		LastModified: timeFromFAT(raw.ModDate, raw.ModTime),
	}.WithOrigin(loc)
}

func rawFromNode(node vfs.Node, firstCluster uint32) (rawDirent, error) {
	rawName, rawExt, err := encode8dot3(node.Name)
	if err != nil {
		return rawDirent{}, err
	}

	now := time.Now().UTC()
	return rawDirent{
		Name:            rawName,
		Ext:             rawExt,
		Attr:            uint8(node.Attributes),
		ModDate:         dateToFAT(now),
		ModTime:         timeToFAT(now),
		FirstClusterLow: uint16(firstCluster),
		FileSize:        node.Size,
	}, nil
}

// encodeRawDirent packs raw into its 32-byte on-disk form. It writes through
// bytewriter so the sequence of binary.Write calls lands at the right
// offsets without hand-tracking a cursor, including the 10 reserved bytes
// between Attr and ModTime that classic DOS left zeroed.
func encodeRawDirent(raw rawDirent) []byte {
	buf := make([]byte, direntSize)
	w := bytewriter.New(buf)

	binary.Write(w, binary.LittleEndian, raw.Name)
	binary.Write(w, binary.LittleEndian, raw.Ext)
	binary.Write(w, binary.LittleEndian, raw.Attr)
	binary.Write(w, binary.LittleEndian, raw.Reserved)
	binary.Write(w, binary.LittleEndian, raw.ModTime)
	binary.Write(w, binary.LittleEndian, raw.ModDate)
	binary.Write(w, binary.LittleEndian, raw.FirstClusterLow)
	binary.Write(w, binary.LittleEndian, raw.FileSize)
	return buf
}

func decodeRawDirent(buf []byte) rawDirent {
	var raw rawDirent
	copy(raw.Name[:], buf[0:8])
	copy(raw.Ext[:], buf[8:11])
	raw.Attr = buf[11]
	raw.ModTime = uint16(buf[22]) | uint16(buf[23])<<8
	raw.ModDate = uint16(buf[24]) | uint16(buf[25])<<8
	raw.FirstClusterLow = uint16(buf[26]) | uint16(buf[27])<<8
	raw.FileSize = uint32(buf[28]) | uint32(buf[29])<<8 | uint32(buf[30])<<16 | uint32(buf[31])<<24
	return raw
}

func firstClusterOf(raw rawDirent) uint32 {
	return uint32(raw.FirstClusterLow)
}
