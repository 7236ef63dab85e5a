// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backend defines the capability set every storage provider
// implements and the registry providers self-register into. The dispatcher
// (internal/dispatch) is the only consumer of this interface; it adapts
// kernel upcalls onto these narrower, storage-agnostic methods.
package backend

import (
	"errors"
	"fmt"

	"github.com/benallfree/dofs/internal/attrs"
)

// InodeID identifies a node. 1 is always the root directory.
type InodeID uint64

// RootInodeID is the inode number of the mount's root directory.
const RootInodeID InodeID = 1

// ReadySentinelInodeID is reserved for the dispatcher's `.fuse_ready` file;
// no backend may allocate it for a user-created node.
const ReadySentinelInodeID InodeID = 2

// FirstUserInodeID is the floor a backend's allocation counter starts from,
// leaving a reserved range below it for the root, the ready sentinel, and
// headroom for future fixed-purpose inodes.
const FirstUserInodeID InodeID = 10

// Sentinel errors every backend returns instead of raw driver/storage
// errors; internal/dispatch maps these onto FUSE errno values.
var (
	ErrNotExist   = errors.New("backend: no such file or directory")
	ErrExist      = errors.New("backend: file exists")
	ErrNotDir     = errors.New("backend: not a directory")
	ErrIsDir      = errors.New("backend: is a directory")
	ErrNotEmpty   = errors.New("backend: directory not empty")
	ErrInvalid    = errors.New("backend: invalid argument")
	ErrPermission = errors.New("backend: permission denied")
	ErrNotSymlink = errors.New("backend: not a symbolic link")
)

// DirEntry is one (inode, kind, name) triple returned by ReadDir, in
// ascending cookie order. Cookie is the entry's own offset in the listing
// (0 for `.`, 1 for `..`); ReadDir(inode, Cookie+1) resumes after it.
type DirEntry struct {
	Inode  InodeID
	Kind   attrs.Kind
	Name   string
	Cookie uint64
}

// SetAttrRequest carries the optional fields a setattr call may update. A
// nil pointer field means "leave unchanged".
type SetAttrRequest struct {
	Mode  *uint32
	Uid   *uint32
	Gid   *uint32
	Size  *uint64
	Atime *int64 // unix nanos
	Mtime *int64
	Ctime *int64
}

// Backend is the capability set a storage provider must implement. Every
// method takes exclusive access to provider state for its duration: the
// dispatcher drives a single-threaded cooperative loop per spec, so no
// method needs its own internal locking against concurrent backend calls
// from this process (persistent backends still serialize against
// concurrent *processes* sharing one database file).
type Backend interface {
	// Lookup resolves name within parent, returning its attributes.
	Lookup(parent InodeID, name string) (attrs.Record, InodeID, error)

	// GetAttr returns the attribute record for inode.
	GetAttr(inode InodeID) (attrs.Record, error)

	// SetAttr applies req to inode and returns the updated attributes.
	SetAttr(inode InodeID, req SetAttrRequest) (attrs.Record, error)

	// ReadDir lists the children of a directory inode starting at offset,
	// including the synthesized `.` and `..` entries at offsets 0 and 1.
	ReadDir(inode InodeID, offset uint64) ([]DirEntry, error)

	// Mkdir creates a new directory named name under parent.
	Mkdir(parent InodeID, name string, mode uint32) (attrs.Record, InodeID, error)

	// Create creates a new regular file named name under parent.
	Create(parent InodeID, name string, mode uint32) (attrs.Record, InodeID, error)

	// Symlink creates a new symlink named name under parent pointing at target.
	Symlink(parent InodeID, name string, target string) (attrs.Record, InodeID, error)

	// Readlink returns the target of a symlink inode.
	Readlink(inode InodeID) (string, error)

	// Read returns up to size bytes of a regular file's content starting at offset.
	Read(inode InodeID, offset int64, size int) ([]byte, error)

	// Write stores data at offset, growing the file if necessary, and
	// returns the number of bytes written.
	Write(inode InodeID, offset int64, data []byte) (int, error)

	// Unlink removes a non-directory name entry and frees its inode once
	// no further references remain.
	Unlink(parent InodeID, name string) error

	// Rmdir removes an empty directory name entry.
	Rmdir(parent InodeID, name string) error

	// Rename moves name under parent to newName under newParent,
	// replacing an existing destination entry when permitted (see
	// DESIGN.md Open Question decisions).
	Rename(parent InodeID, name string, newParent InodeID, newName string) error

	// Open validates that inode may be opened; returns the handle ID (always 0).
	Open(inode InodeID) (uint64, error)

	// Flush persists any buffered state for inode; a no-op for backends
	// that write through already.
	Flush(inode InodeID) error

	// Release drops the open-handle reference acquired by Open.
	Release(inode InodeID) error
}

// Factory constructs a Backend from a resolved configuration. Each provider
// package registers one under its own name in init().
type Factory func(dbPath string, chunkSize int) (Backend, error)

// Registry maps provider names to their Factory, populated by each backend
// package's init() so the CLI's list-providers command and `--provider` flag
// never need a hardcoded switch.
var Registry = map[string]Factory{}

// Register adds a provider factory under name. Panics on a duplicate name:
// that can only be a programming error (two packages both registering the
// same provider string), never a runtime condition.
func Register(name string, f Factory) {
	if _, exists := Registry[name]; exists {
		panic(fmt.Sprintf("backend: provider %q already registered", name))
	}
	Registry[name] = f
}
