package vfs

import (
	"sync"

	"github.com/tjhancocks/imgtool/block"
	"github.com/tjhancocks/imgtool/errors"
)

// Backend is the capability set every filesystem driver must provide. The
// mediator owns exactly one Backend instance per mounted handle and calls
// through this interface uniformly -- there is no inheritance chain, just a
// dispatch table, the idiomatic Go equivalent of the original C
// struct-of-function-pointers.
type Backend interface {
	// TypeName is the stable identifier used to look this driver up in the
	// registry, e.g. "fat12".
	TypeName() string

	// Probe reports whether dev looks like this backend's on-disk format.
	// It must not mutate dev.
	Probe(dev block.Device) bool

	// Format lays down a fresh, empty filesystem of this type on dev.
	// bootCode may be nil.
	Format(dev block.Device, volumeLabel string, bootCode []byte) error

	// Mount reads the superblock/FAT/etc. and prepares the backend to serve
	// operations against dev. It's called once per handle, before any other
	// method.
	Mount(dev block.Device) error

	// Unmount flushes any dirty in-memory state back to the device.
	Unmount(dev block.Device) error

	// SetDirectory updates the cached current directory. A nil node means
	// "the root directory".
	SetDirectory(dev block.Device, dir *Node) error

	// CurrentDirectory returns a copy of the current directory node.
	CurrentDirectory() Node

	// ListDirectory returns the entries of the current directory, in
	// on-disk order.
	ListDirectory(dev block.Device) ([]Node, error)

	// GetNode searches the current directory for name. If no live entry
	// matches, it returns a node with State Available (a freed slot the
	// caller may reuse) or, when there is no freed slot, Unused -- not an error;
	// only a genuine backend failure returns a non-nil error.
	GetNode(dev block.Device, name string) (Node, error)

	// CreateFile creates a new, empty file in the current directory.
	CreateFile(dev block.Device, name string, attrs Attr) (Node, error)

	// CreateDir creates a new, empty subdirectory in the current directory.
	CreateDir(dev block.Device, name string, attrs Attr) (Node, error)

	// Write truncates (if necessary) and writes the first n bytes of data
	// into name, allocating storage as needed.
	Write(dev block.Device, name string, data []byte, n uint32) error

	// Read returns the full, exact contents of name.
	Read(dev block.Device, name string) ([]byte, error)

	// Remove frees name's storage and marks its directory entry available.
	Remove(dev block.Device, name string) error
}

// registry is the package-level type_name -> constructor lookup, mirroring
// the original C vfs_interface_for/vfs_interface_for_device dispatch as an
// idiomatic Go map instead of a strcmp ladder.
var (
	registryMu sync.RWMutex
	registry   = map[string]func() Backend{}
)

// RegisterBackend adds a backend constructor under a stable type name. It's
// meant to be called from an init() function, the way database/sql drivers
// register themselves.
func RegisterBackend(typeName string, ctor func() Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typeName] = ctor
}

// BackendByName constructs a fresh Backend instance by exact type-name
// match, or returns ErrNotSupported if nothing is registered under that
// name.
func BackendByName(typeName string) (Backend, error) {
	registryMu.RLock()
	ctor, ok := registry[typeName]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.ErrNotSupported.WithMessage("no backend registered as " + typeName)
	}
	return ctor(), nil
}

// ProbeBackend tries every registered backend's Probe method against dev
// and returns the first one that recognizes it. Returns ErrNotSupported if
// no driver claims the device.
func ProbeBackend(dev block.Device) (Backend, error) {
	registryMu.RLock()
	ctors := make([]func() Backend, 0, len(registry))
	for _, ctor := range registry {
		ctors = append(ctors, ctor)
	}
	registryMu.RUnlock()

	for _, ctor := range ctors {
		candidate := ctor()
		if candidate.Probe(dev) {
			return candidate, nil
		}
	}
	return nil, errors.ErrNotSupported.WithMessage("no registered backend recognizes this device")
}
