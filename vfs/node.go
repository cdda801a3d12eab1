package vfs

import "time"

// EntryState records where a directory entry slot sits in its lifecycle:
// it was never allocated, it was allocated and later freed, or it's live.
// A slot never regresses from Used back to Unused -- only to Available, and
// only Available slots are ever reused.
type EntryState int

const (
	// Unused marks a directory entry slot that has never been allocated, or
	// the end-of-directory terminator.
	Unused EntryState = iota
	// Available marks a slot that held a live entry which was since removed.
	Available
	// Used marks a live, in-use entry.
	Used
)

// Attr is a bitset of directory entry attributes, backend-agnostic enough
// to cover FAT-style flags.
type Attr uint8

const (
	AttrReadOnly Attr = 1 << iota
	AttrHidden
	AttrSystem
	AttrVolumeLabel
	AttrDirectory
	AttrArchive
)

func (a Attr) IsDirectory() bool { return a&AttrDirectory != 0 }
func (a Attr) IsReadOnly() bool  { return a&AttrReadOnly != 0 }

// Node is an in-memory, owned snapshot of a directory entry surfaced by a
// backend. Backends must return value-typed copies, never pointers into
// their own directory buffers, so callers can hold a Node across further
// backend calls without it dangling or drifting out from under them.
type Node struct {
	Name       string
	State      EntryState
	Attributes Attr

	// Size is meaningful for files only; backends leave it 0 for
	// directories, whose extent is backend-defined.
	Size uint32

	// FirstSector is the backend's native first-block index (for FAT12,
	// the sector the first cluster maps to).
	FirstSector uint32

	// Sectors is the fully resolved, ordered list of device sector indices
	// backing this entry's data. Populated when the node is materialized by
	// GetFile or GetNode.
	Sectors []uint32

	CreatedAt    time.Time
	LastModified time.Time

	// backend-private location so a later write can update this exact
	// directory entry in place. Opaque to everything outside the backend
	// that produced it.
	origin any
}

// SectorCount is len(Sectors); kept as a method rather than a stored field
// so the two can never drift apart.
func (n Node) SectorCount() uint32 { return uint32(len(n.Sectors)) }

func (n Node) IsDirectory() bool { return n.Attributes.IsDirectory() }

// RootNode is the sentinel representing "the root directory itself": the
// name "/", state Used, and the directory attribute set.
func RootNode() Node {
	return Node{Name: "/", State: Used, Attributes: AttrDirectory}
}

// WithOrigin returns a copy of n carrying an opaque backend-private
// back-pointer (e.g. "this directory's sector and byte offset").
func (n Node) WithOrigin(origin any) Node {
	n.origin = origin
	return n
}

// Origin returns the backend-private back-pointer attached by WithOrigin.
func (n Node) Origin() any { return n.origin }
