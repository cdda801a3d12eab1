package block

import (
	"os"

	"github.com/tjhancocks/imgtool/errors"
	"github.com/xaionaro-go/bytesextra"
)

// OpenFile opens an existing disk image file and wraps it as a Device. The
// file's size must be an exact multiple of sectorSize.
func OpenFile(path string, sectorSize uint32) (*StreamDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	if info.Size()%int64(sectorSize) != 0 {
		f.Close()
		return nil, errors.ErrFileSystemCorrupted.WithMessage(
			"image size is not a multiple of the sector size")
	}

	sectorCount := uint32(info.Size() / int64(sectorSize))
	return NewStreamDevice(f, sectorSize, sectorCount), nil
}

// CreateFile creates (or truncates) a disk image file of exactly
// sectorCount*sectorSize bytes, zero-filled, and wraps it as a Device.
func CreateFile(path string, sectorSize, sectorCount uint32) (*StreamDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	totalSize := int64(sectorSize) * int64(sectorCount)
	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	return NewStreamDevice(f, sectorSize, sectorCount), nil
}

// NewMemDevice creates an in-memory Device of sectorCount*sectorSize
// zero-filled bytes. It's used by tests and by callers that want to build
// up an image before writing it to disk in one shot.
func NewMemDevice(sectorSize, sectorCount uint32) *StreamDevice {
	buf := make([]byte, int64(sectorSize)*int64(sectorCount))
	stream := bytesextra.NewReadWriteSeeker(buf)
	return NewStreamDevice(stream, sectorSize, sectorCount)
}
