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

// Package memory implements the volatile backend: an in-memory tree of
// nodes keyed by inode number, with directories holding ordered
// name-to-inode maps. Nothing here survives process exit.
package memory

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/benallfree/dofs/internal/attrs"
	"github.com/benallfree/dofs/internal/backend"
	"github.com/benallfree/dofs/internal/clock"
)

// ProviderName is the name this backend registers under and that
// cfg.ProviderMemory must match.
const ProviderName = "memory"

func init() {
	backend.Register(ProviderName, func(_ string, _ int) (backend.Backend, error) {
		return New(clock.Real()), nil
	})
}

// dirent is one name-to-child mapping in a directory's ordered entry list.
// Unused (removed) slots are left with an empty Name so slice positions of
// sibling entries never shift, matching the allocation strategy of the inode
// table itself. ReadDir numbers its cookies over the sorted live names, so a
// removal does shift the listing offsets of the names after it.
type dirent struct {
	name  string
	inode backend.InodeID
}

// node is the in-memory representation of a single inode: its attribute
// record plus, depending on kind, directory entries, file content or a
// symlink target.
type node struct {
	attr     attrs.Record
	entries  []dirent // directories only
	content  []byte   // regular files only
	target   string   // symlinks only
}

// Memory is the volatile backend. All state lives in process memory and is
// guarded by a single mutex: the dispatcher already serializes calls, but
// the mutex keeps this safe to exercise directly from concurrent tests.
type Memory struct {
	mu         sync.Mutex
	clock      clock.Clock
	nodes      []*node // index 0 unused, RootInodeID(1) and ReadySentinelInodeID(2) pre-populated
	freeInodes []backend.InodeID
	nextInode  backend.InodeID
}

// New constructs an empty Memory backend with just the root directory and
// the ready sentinel populated.
func New(c clock.Clock) *Memory {
	m := &Memory{
		clock:     c,
		nodes:     make([]*node, backend.FirstUserInodeID),
		nextInode: backend.FirstUserInodeID,
	}

	now := c.Now()
	m.nodes[backend.RootInodeID] = &node{
		attr: attrs.Record{
			Kind:   attrs.KindDirectory,
			Mode:   os.ModeDir | 0755,
			Nlink:  2,
			Mtime:  now,
			Ctime:  now,
			Crtime: now,
		},
	}
	m.nodes[backend.ReadySentinelInodeID] = &node{
		attr: attrs.Record{
			Kind:   attrs.KindFile,
			Mode:   0444,
			Nlink:  1,
			Mtime:  now,
			Ctime:  now,
			Crtime: now,
		},
	}

	return m
}

func (m *Memory) allocate(n *node) backend.InodeID {
	if numFree := len(m.freeInodes); numFree != 0 {
		id := m.freeInodes[numFree-1]
		m.freeInodes = m.freeInodes[:numFree-1]
		m.nodes[id] = n
		return id
	}

	id := m.nextInode
	m.nextInode++
	m.nodes = append(m.nodes, n)
	return id
}

func (m *Memory) deallocate(id backend.InodeID) {
	m.nodes[id] = nil
	m.freeInodes = append(m.freeInodes, id)
}

func (m *Memory) lookupNode(id backend.InodeID) (*node, error) {
	if id == 0 || int(id) >= len(m.nodes) || m.nodes[id] == nil {
		return nil, backend.ErrNotExist
	}
	return m.nodes[id], nil
}

func (n *node) findChild(name string) (int, bool) {
	for i, e := range n.entries {
		if e.name == name {
			return i, true
		}
	}
	return -1, false
}

func (n *node) addChild(name string, id backend.InodeID) {
	for i := range n.entries {
		if n.entries[i].name == "" {
			n.entries[i] = dirent{name: name, inode: id}
			return
		}
	}
	n.entries = append(n.entries, dirent{name: name, inode: id})
}

func (n *node) removeChild(name string) {
	i, ok := n.findChild(name)
	if !ok {
		return
	}
	n.entries[i] = dirent{}
}

func (n *node) childCount() int {
	count := 0
	for _, e := range n.entries {
		if e.name != "" {
			count++
		}
	}
	return count
}

func (m *Memory) Lookup(parent backend.InodeID, name string) (attrs.Record, backend.InodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookupNode(parent)
	if err != nil {
		return attrs.Record{}, 0, err
	}
	if p.attr.Kind != attrs.KindDirectory {
		return attrs.Record{}, 0, backend.ErrNotDir
	}

	i, ok := p.findChild(name)
	if !ok {
		return attrs.Record{}, 0, backend.ErrNotExist
	}

	child := m.nodes[p.entries[i].inode]
	return child.attr, p.entries[i].inode, nil
}

func (m *Memory) GetAttr(inode backend.InodeID) (attrs.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupNode(inode)
	if err != nil {
		return attrs.Record{}, err
	}
	return n.attr, nil
}

func (m *Memory) SetAttr(inode backend.InodeID, req backend.SetAttrRequest) (attrs.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupNode(inode)
	if err != nil {
		return attrs.Record{}, err
	}

	if req.Size != nil && n.attr.Kind != attrs.KindFile {
		return attrs.Record{}, backend.ErrInvalid
	}

	now := m.clock.Now()
	if req.Mode != nil {
		n.attr.Mode = (n.attr.Mode &^ os.ModePerm) | os.FileMode(*req.Mode&0777)
	}
	if req.Uid != nil {
		n.attr.Uid = *req.Uid
	}
	if req.Gid != nil {
		n.attr.Gid = *req.Gid
	}
	if req.Size != nil {
		m.resize(n, *req.Size)
		n.attr.Mtime = now
		n.attr.Ctime = now
	}
	if req.Atime != nil {
		n.attr.Atime = timeFromUnixNano(*req.Atime)
	}
	if req.Mtime != nil {
		n.attr.Mtime = timeFromUnixNano(*req.Mtime)
	}
	if req.Ctime != nil {
		n.attr.Ctime = timeFromUnixNano(*req.Ctime)
	} else {
		n.attr.Ctime = now
	}

	return n.attr, nil
}

func (m *Memory) resize(n *node, size uint64) {
	if size <= uint64(len(n.content)) {
		n.content = n.content[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, n.content)
		n.content = grown
	}
	n.attr.Size = size
}

func (m *Memory) ReadDir(inode backend.InodeID, offset uint64) ([]backend.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupNode(inode)
	if err != nil {
		return nil, err
	}
	if n.attr.Kind != attrs.KindDirectory {
		return nil, backend.ErrNotDir
	}

	all := make([]backend.DirEntry, 0, len(n.entries)+2)
	all = append(all, backend.DirEntry{Inode: inode, Kind: attrs.KindDirectory, Name: ".", Cookie: 0})
	all = append(all, backend.DirEntry{Inode: backend.RootInodeID, Kind: attrs.KindDirectory, Name: "..", Cookie: 1})

	cookie := uint64(2)
	names := make([]string, 0, len(n.entries))
	byName := map[string]backend.InodeID{}
	for _, e := range n.entries {
		if e.name == "" {
			continue
		}
		names = append(names, e.name)
		byName[e.name] = e.inode
	}
	sort.Strings(names)
	for _, name := range names {
		child := m.nodes[byName[name]]
		all = append(all, backend.DirEntry{Inode: byName[name], Kind: child.attr.Kind, Name: name, Cookie: cookie})
		cookie++
	}

	if offset >= uint64(len(all)) {
		return nil, nil
	}
	return all[offset:], nil
}

func (m *Memory) create(parent backend.InodeID, name string, mode uint32, n *node) (attrs.Record, backend.InodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookupNode(parent)
	if err != nil {
		return attrs.Record{}, 0, err
	}
	if p.attr.Kind != attrs.KindDirectory {
		return attrs.Record{}, 0, backend.ErrNotDir
	}
	if _, ok := p.findChild(name); ok {
		return attrs.Record{}, 0, backend.ErrExist
	}

	now := m.clock.Now()
	n.attr.Mode = (n.attr.Mode &^ os.ModePerm) | os.FileMode(mode&0777)
	n.attr.Mtime = now
	n.attr.Ctime = now
	n.attr.Crtime = now

	id := m.allocate(n)
	p.addChild(name, id)
	p.attr.Mtime = now

	return n.attr, id, nil
}

func (m *Memory) Mkdir(parent backend.InodeID, name string, mode uint32) (attrs.Record, backend.InodeID, error) {
	return m.create(parent, name, mode, &node{
		attr: attrs.Record{Kind: attrs.KindDirectory, Mode: os.ModeDir, Nlink: 2},
	})
}

func (m *Memory) Create(parent backend.InodeID, name string, mode uint32) (attrs.Record, backend.InodeID, error) {
	return m.create(parent, name, mode, &node{
		attr: attrs.Record{Kind: attrs.KindFile, Nlink: 1},
	})
}

func (m *Memory) Symlink(parent backend.InodeID, name string, target string) (attrs.Record, backend.InodeID, error) {
	attr, id, err := m.create(parent, name, 0777, &node{
		attr:   attrs.Record{Kind: attrs.KindSymlink, Mode: os.ModeSymlink, Nlink: 1},
		target: target,
	})
	if err != nil {
		return attr, id, err
	}
	m.mu.Lock()
	m.nodes[id].attr.Size = uint64(len(target))
	attr = m.nodes[id].attr
	m.mu.Unlock()
	return attr, id, nil
}

func (m *Memory) Readlink(inode backend.InodeID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupNode(inode)
	if err != nil {
		return "", err
	}
	if n.attr.Kind != attrs.KindSymlink {
		return "", backend.ErrNotSymlink
	}
	return n.target, nil
}

func (m *Memory) Read(inode backend.InodeID, offset int64, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupNode(inode)
	if err != nil {
		return nil, err
	}
	if n.attr.Kind == attrs.KindSymlink {
		return nil, backend.ErrInvalid
	}
	if n.attr.Kind != attrs.KindFile {
		return nil, backend.ErrIsDir
	}

	if offset < 0 || offset >= int64(len(n.content)) {
		return []byte{}, nil
	}
	end := offset + int64(size)
	if end > int64(len(n.content)) {
		end = int64(len(n.content))
	}
	out := make([]byte, end-offset)
	copy(out, n.content[offset:end])
	return out, nil
}

func (m *Memory) Write(inode backend.InodeID, offset int64, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupNode(inode)
	if err != nil {
		return 0, err
	}
	if n.attr.Kind != attrs.KindFile {
		return 0, backend.ErrIsDir
	}

	end := offset + int64(len(data))
	if end > int64(len(n.content)) {
		grown := make([]byte, end)
		copy(grown, n.content)
		n.content = grown
	}
	copy(n.content[offset:end], data)

	now := m.clock.Now()
	n.attr.Size = uint64(len(n.content))
	n.attr.Mtime = now
	n.attr.Ctime = now

	return len(data), nil
}

func (m *Memory) Unlink(parent backend.InodeID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookupNode(parent)
	if err != nil {
		return err
	}
	i, ok := p.findChild(name)
	if !ok {
		return backend.ErrNotExist
	}

	childID := p.entries[i].inode
	child := m.nodes[childID]
	if child.attr.Kind == attrs.KindDirectory {
		return backend.ErrIsDir
	}

	p.removeChild(name)
	m.deallocate(childID)
	p.attr.Mtime = m.clock.Now()
	return nil
}

func (m *Memory) Rmdir(parent backend.InodeID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookupNode(parent)
	if err != nil {
		return err
	}
	i, ok := p.findChild(name)
	if !ok {
		return backend.ErrNotExist
	}

	childID := p.entries[i].inode
	child := m.nodes[childID]
	if child.attr.Kind != attrs.KindDirectory {
		return backend.ErrNotDir
	}
	if child.childCount() != 0 {
		return backend.ErrNotEmpty
	}

	p.removeChild(name)
	m.deallocate(childID)
	p.attr.Mtime = m.clock.Now()
	return nil
}

func (m *Memory) Rename(parent backend.InodeID, name string, newParent backend.InodeID, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.lookupNode(parent)
	if err != nil {
		return err
	}
	np, err := m.lookupNode(newParent)
	if err != nil {
		return err
	}

	i, ok := p.findChild(name)
	if !ok {
		return backend.ErrNotExist
	}
	srcID := p.entries[i].inode

	if _, ok := np.findChild(newName); ok {
		return backend.ErrExist
	}

	p.removeChild(name)
	np.addChild(newName, srcID)

	now := m.clock.Now()
	p.attr.Mtime = now
	np.attr.Mtime = now
	return nil
}

func (m *Memory) Open(inode backend.InodeID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookupNode(inode); err != nil {
		return 0, err
	}
	return 0, nil
}

func (m *Memory) Flush(inode backend.InodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.lookupNode(inode)
	return err
}

func (m *Memory) Release(inode backend.InodeID) error {
	return nil
}

func timeFromUnixNano(nanos int64) time.Time {
	return time.Unix(0, nanos)
}
