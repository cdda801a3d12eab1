// Package vfs implements the backend-agnostic VFS mediator: path parsing,
// current-directory bookkeeping, and the uniform file/directory operations
// that every mounted filesystem exposes regardless of its on-disk format.
package vfs

import (
	"math"
	"strings"

	"github.com/tjhancocks/imgtool/block"
	"github.com/tjhancocks/imgtool/errors"
)

// NoSector is returned by NthSectorOf when there is no such file or the
// index is out of range -- preserved as math.MaxUint32 for compatibility
// with callers that stream sectors and use it as a sentinel.
const NoSector uint32 = math.MaxUint32

// Handle is the mediator: it owns a device and a backend driver and
// coordinates path resolution and current-directory state between them.
// It is not safe for concurrent use; callers wanting concurrency must
// serialize externally.
type Handle struct {
	device  block.Device
	backend Backend

	// cwdStack is the sequence of component names from root to the current
	// directory, maintained so Pwd can report a real canonical path instead
	// of a placeholder.
	cwdStack []string
}

// Mount probes every registered backend against dev and, on the first
// match, mounts it and returns a ready Handle positioned at the root
// directory. It returns ErrNotSupported if no driver recognizes the device.
func Mount(dev block.Device) (*Handle, error) {
	backend, err := ProbeBackend(dev)
	if err != nil {
		return nil, err
	}
	return mountWith(dev, backend)
}

// MountAs mounts dev using the backend registered under typeName, skipping
// the probe step. Useful when the caller already knows the format.
func MountAs(dev block.Device, typeName string) (*Handle, error) {
	backend, err := BackendByName(typeName)
	if err != nil {
		return nil, err
	}
	return mountWith(dev, backend)
}

func mountWith(dev block.Device, backend Backend) (*Handle, error) {
	if err := backend.Mount(dev); err != nil {
		return nil, err
	}
	if err := backend.SetDirectory(dev, nil); err != nil {
		return nil, err
	}
	return &Handle{device: dev, backend: backend, cwdStack: nil}, nil
}

// Unmount flushes and releases the backend and device. The handle must not
// be used afterward.
func (h *Handle) Unmount() error {
	return h.backend.Unmount(h.device)
}

// Pwd returns the canonical textual path of the current directory: "/" at
// root, "<unmounted>" if h is nil (no filesystem attached), or the full
// "/a/b/c" path otherwise.
func (h *Handle) Pwd() string {
	if h == nil {
		return "<unmounted>"
	}
	if len(h.cwdStack) == 0 {
		return "/"
	}
	return "/" + strings.Join(h.cwdStack, "/")
}

// withRestoredCWD runs walk, which may descend the backend's current
// directory while traversing path components, and always puts the CWD
// back (both the backend's cached node and the mediator's path stack)
// before returning, regardless of whether walk succeeded. It's for
// operations like Mkdir and GetFile that use directory descent purely as
// an implementation detail of path resolution and must not leave the
// handle's notion of "current directory" changed as a side effect.
func (h *Handle) withRestoredCWD(walk func() error) error {
	origCWD := h.backend.CurrentDirectory()
	origStack := append([]string(nil), h.cwdStack...)

	err := walk()
	h.backend.SetDirectory(h.device, &origCWD)
	h.cwdStack = origStack
	return err
}

// withRollbackOnError runs walk and restores the original CWD only if it
// fails, leaving a successful navigation in place -- the behavior Cd wants:
// land on the destination on success, but never leave the handle pointed
// at a partially-walked path after a failed component.
func (h *Handle) withRollbackOnError(walk func() error) error {
	origCWD := h.backend.CurrentDirectory()
	origStack := append([]string(nil), h.cwdStack...)

	err := walk()
	if err != nil {
		h.backend.SetDirectory(h.device, &origCWD)
		h.cwdStack = origStack
	}
	return err
}

// descend moves the cached CWD to node and pushes its name onto the path
// stack, keeping Pwd() accurate.
func (h *Handle) descend(node Node) error {
	if err := h.backend.SetDirectory(h.device, &node); err != nil {
		return err
	}
	h.cwdStack = append(h.cwdStack, node.Name)
	return nil
}

// resetToRoot moves the cached CWD back to the root directory.
func (h *Handle) resetToRoot() error {
	if err := h.backend.SetDirectory(h.device, nil); err != nil {
		return err
	}
	h.cwdStack = nil
	return nil
}

// Cd changes the current directory to path. On any failure -- a missing
// component or a component that isn't a directory -- the CWD is left
// exactly as it was before the call.
func (h *Handle) Cd(path string) error {
	parsed := ParsePath(path)

	return h.withRollbackOnError(func() error {
		if parsed.IsRoot {
			if err := h.resetToRoot(); err != nil {
				return err
			}
		}

		for _, name := range parsed.Components {
			node, err := h.backend.GetNode(h.device, name)
			if err != nil {
				return err
			}
			if node.State != Used {
				return errors.ErrNotFound.WithMessage(name)
			}
			if !node.IsDirectory() {
				return errors.ErrNotADirectory.WithMessage(name)
			}
			if err := h.descend(node); err != nil {
				return err
			}
		}
		return nil
	})
}

// Touch creates an empty file named path in the current directory. path is
// the last component only in this version of the contract -- callers that
// want to create a file at a nested location should Cd there first.
func (h *Handle) Touch(path string) error {
	existing, err := h.backend.GetNode(h.device, path)
	if err != nil {
		return err
	}
	if existing.State == Used {
		// touch on an existing file is a no-op on content, matching the
		// idempotence property in spec.md's testable properties.
		return nil
	}

	_, err = h.backend.CreateFile(h.device, path, 0)
	return err
}

// Mkdir creates every directory component of path that doesn't already
// exist, descending into each as it goes, and restores the original CWD
// before returning. It returns nil on success; if any component exists and
// is not a directory, it fails without creating anything past that point.
func (h *Handle) Mkdir(path string) error {
	parsed := ParsePath(path)

	return h.withRestoredCWD(func() error {
		if parsed.IsRoot {
			if err := h.resetToRoot(); err != nil {
				return err
			}
		}

		for _, name := range parsed.Components {
			node, err := h.backend.GetNode(h.device, name)
			if err != nil {
				return err
			}

			if node.State == Used {
				if !node.IsDirectory() {
					return errors.ErrNotADirectory.WithMessage(name)
				}
			} else {
				node, err = h.backend.CreateDir(h.device, name, AttrDirectory)
				if err != nil {
					return err
				}
			}

			if err := h.descend(node); err != nil {
				return err
			}
		}
		return nil
	})
}

// Write creates name if it doesn't exist, then truncates and writes n bytes
// of data into it.
func (h *Handle) Write(name string, data []byte, n uint32) error {
	if err := h.Touch(name); err != nil {
		return err
	}
	return h.backend.Write(h.device, name, data, n)
}

// Read returns the full contents of name.
func (h *Handle) Read(name string) ([]byte, error) {
	return h.backend.Read(h.device, name)
}

// Remove deletes name from the current directory.
func (h *Handle) Remove(name string) error {
	return h.backend.Remove(h.device, name)
}

// ListDirectory returns the entries of the current directory.
func (h *Handle) ListDirectory() ([]Node, error) {
	return h.backend.ListDirectory(h.device)
}

// GetFile walks path, requiring every intermediate component to be a
// directory and the final component to be a non-directory file, and
// returns its fully materialized Node (Sectors populated). The CWD is
// always restored afterward, success or failure -- GetFile is a lookup, not
// a navigation operation.
func (h *Handle) GetFile(path string) (Node, error) {
	parsed := ParsePath(path)
	var result Node

	err := h.withRestoredCWD(func() error {
		if parsed.IsRoot {
			if err := h.resetToRoot(); err != nil {
				return err
			}
		}

		if len(parsed.Components) == 0 {
			return errors.ErrIsADirectory.WithMessage("path names the root directory")
		}

		for i, name := range parsed.Components {
			node, err := h.backend.GetNode(h.device, name)
			if err != nil {
				return err
			}
			if node.State != Used {
				return errors.ErrNotFound.WithMessage(name)
			}

			isLast := i == len(parsed.Components)-1
			if isLast {
				if node.IsDirectory() {
					return errors.ErrIsADirectory.WithMessage(name)
				}
				result = node
				return nil
			}

			if !node.IsDirectory() {
				return errors.ErrNotADirectory.WithMessage(name)
			}
			if err := h.descend(node); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return Node{}, err
	}
	return result, nil
}

// SectorCountOf returns the number of sectors backing the file at path, or
// 0 if there is no such file.
func (h *Handle) SectorCountOf(path string) uint32 {
	node, err := h.GetFile(path)
	if err != nil {
		return 0
	}
	return node.SectorCount()
}

// NthSectorOf returns the nth device sector index backing the file at
// path, or NoSector if there is no such file or n is out of range.
func (h *Handle) NthSectorOf(n uint32, path string) uint32 {
	node, err := h.GetFile(path)
	if err != nil {
		return NoSector
	}
	if n >= node.SectorCount() {
		return NoSector
	}
	return node.Sectors[n]
}
