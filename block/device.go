// Package block provides a fixed-size-sector block device abstraction, the
// foundation every filesystem backend in this module reads and writes
// through.
package block

import (
	"io"

	"github.com/tjhancocks/imgtool/errors"
)

// Device is a fixed-size sector array addressable by sector index. No
// caching contract is mandated: implementations may buffer internally but
// must present a sequentially consistent view to a single caller.
type Device interface {
	// ReadSector returns the contents of sector index. The returned slice is
	// always exactly SectorSize() bytes long.
	ReadSector(index uint32) ([]byte, error)

	// WriteSector overwrites sector index with data, which must be exactly
	// SectorSize() bytes long.
	WriteSector(index uint32, data []byte) error

	// SectorSize returns the fixed size of a single sector, in bytes.
	SectorSize() uint32

	// SectorCount returns the total number of addressable sectors.
	SectorCount() uint32

	// Flush pushes any buffered sectors to the backing store.
	Flush() error
}

// checkBounds validates that index and the length of data are consistent
// with a device of the given geometry.
func checkBounds(index uint32, dataLen int, sectorSize, sectorCount uint32) error {
	if index >= sectorCount {
		return errors.ErrArgumentOutOfRange.WithMessage(
			"sector index out of range")
	}
	if dataLen != int(sectorSize) {
		return errors.ErrInvalidArgument.WithMessage(
			"data must be exactly one sector long")
	}
	return nil
}

// StreamDevice is a Device backed by an io.ReadWriteSeeker stream, such as
// an *os.File or an in-memory buffer. Byte N of sector S lives at stream
// offset S*sectorSize + N, matching the raw, headerless image format used
// for FAT12 disk images.
type StreamDevice struct {
	stream      io.ReadWriteSeeker
	sectorSize  uint32
	sectorCount uint32
}

// NewStreamDevice wraps an already correctly-sized stream as a Device.
func NewStreamDevice(stream io.ReadWriteSeeker, sectorSize, sectorCount uint32) *StreamDevice {
	return &StreamDevice{
		stream:      stream,
		sectorSize:  sectorSize,
		sectorCount: sectorCount,
	}
}

func (d *StreamDevice) SectorSize() uint32  { return d.sectorSize }
func (d *StreamDevice) SectorCount() uint32 { return d.sectorCount }

func (d *StreamDevice) ReadSector(index uint32) ([]byte, error) {
	if err := checkBounds(index, int(d.sectorSize), d.sectorSize, d.sectorCount); err != nil {
		return nil, err
	}

	offset := int64(index) * int64(d.sectorSize)
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	buffer := make([]byte, d.sectorSize)
	if _, err := io.ReadFull(d.stream, buffer); err != nil {
		return nil, errors.ErrIOFailed.WrapError(err)
	}
	return buffer, nil
}

func (d *StreamDevice) WriteSector(index uint32, data []byte) error {
	if err := checkBounds(index, len(data), d.sectorSize, d.sectorCount); err != nil {
		return err
	}

	offset := int64(index) * int64(d.sectorSize)
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}

	if _, err := d.stream.Write(data); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	return nil
}

// Flush calls Sync on the underlying stream if it supports it; otherwise it
// is a no-op, since not every io.ReadWriteSeeker buffers writes.
func (d *StreamDevice) Flush() error {
	type syncer interface {
		Sync() error
	}
	if s, ok := d.stream.(syncer); ok {
		if err := s.Sync(); err != nil {
			return errors.ErrIOFailed.WrapError(err)
		}
	}
	return nil
}
