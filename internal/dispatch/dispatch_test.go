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

package dispatch

import (
	"syscall"
	"testing"

	"github.com/benallfree/dofs/internal/backend"
	"github.com/benallfree/dofs/internal/backend/memory"
	"github.com/benallfree/dofs/internal/clock"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"
)

type DispatchSuite struct {
	suite.Suite
	fs *FileSystem
}

func (s *DispatchSuite) SetupTest() {
	s.fs = New(memory.New(clock.Real()), clock.Real(), false, nil)
}

func (s *DispatchSuite) TestLookUpReadySentinel() {
	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: readySentinelName}
	s.Require().NoError(s.fs.LookUpInode(op))
	s.Equal(fuseops.InodeID(backend.ReadySentinelInodeID), op.Entry.Child)
}

func (s *DispatchSuite) TestLookUpMissingReturnsENOENT() {
	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	err := s.fs.LookUpInode(op)
	s.Equal(syscall.Errno(unix.ENOENT), err)
}

func (s *DispatchSuite) TestMkDirStampsOwnerOnNewInode() {
	op := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "sub", Mode: 0755}
	s.Require().NoError(s.fs.MkDir(op))
	s.NotZero(op.Entry.Child)

	var attrOp fuseops.GetInodeAttributesOp
	attrOp.Inode = op.Entry.Child
	s.Require().NoError(s.fs.GetInodeAttributes(&attrOp))
	s.Equal(s.fs.uid, attrOp.Attributes.Uid)
	s.Equal(s.fs.gid, attrOp.Attributes.Gid)
}

func (s *DispatchSuite) TestOsxModeBlocksCreation() {
	s.fs.osxMode = true
	op := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "._hidden", Mode: 0644}
	err := s.fs.CreateFile(op)
	s.Equal(syscall.Errno(unix.EACCES), err)
}

// TestCreateWriteReadFlushReleaseRoundTrip exercises the full file-handle
// lifecycle end to end, including the handle table CreateFile/OpenFile
// populate and ReleaseFileHandle must drain (ReleaseFileHandleOp carries no
// Inode field, only the Handle minted at open/create time).
func (s *DispatchSuite) TestCreateWriteReadFlushReleaseRoundTrip() {
	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f.txt", Mode: 0644}
	s.Require().NoError(s.fs.CreateFile(createOp))
	s.Require().NotZero(createOp.Handle)

	inode := createOp.Entry.Child

	writeOp := &fuseops.WriteFileOp{Inode: inode, Handle: createOp.Handle, Offset: 0, Data: []byte("hello")}
	s.Require().NoError(s.fs.WriteFile(writeOp))

	readOp := &fuseops.ReadFileOp{Inode: inode, Handle: createOp.Handle, Offset: 0, Size: 5}
	s.Require().NoError(s.fs.ReadFile(readOp))
	s.Equal("hello", string(readOp.Data))

	s.Require().NoError(s.fs.FlushFile(&fuseops.FlushFileOp{Inode: inode, Handle: createOp.Handle}))

	s.fs.mu.Lock()
	_, stillOpen := s.fs.fileHandles[createOp.Handle]
	s.fs.mu.Unlock()
	s.True(stillOpen)

	s.Require().NoError(s.fs.ReleaseFileHandle(&fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))

	s.fs.mu.Lock()
	_, stillOpenAfterRelease := s.fs.fileHandles[createOp.Handle]
	s.fs.mu.Unlock()
	s.False(stillOpenAfterRelease)
}

func (s *DispatchSuite) TestOpenFileMintsIndependentHandle() {
	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "g.txt", Mode: 0644}
	s.Require().NoError(s.fs.CreateFile(createOp))
	s.Require().NoError(s.fs.ReleaseFileHandle(&fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))

	openOp := &fuseops.OpenFileOp{Inode: createOp.Entry.Child}
	s.Require().NoError(s.fs.OpenFile(openOp))
	s.NotEqual(createOp.Handle, openOp.Handle)

	s.fs.mu.Lock()
	gotInode, ok := s.fs.fileHandles[openOp.Handle]
	s.fs.mu.Unlock()
	s.True(ok)
	s.Equal(backend.InodeID(createOp.Entry.Child), gotInode)
}

func (s *DispatchSuite) TestReadDirOmitsReadySentinelAndListsEntries() {
	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d", Mode: 0755}
	s.Require().NoError(s.fs.MkDir(mkdirOp))

	openDirOp := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	s.Require().NoError(s.fs.OpenDir(openDirOp))

	entries, err := s.fs.entriesFor(backend.RootInodeID, 0)
	s.Require().NoError(err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	s.False(names[readySentinelName])
	s.True(names["d"])

	s.Require().NoError(s.fs.ReleaseDirHandle(&fuseops.ReleaseDirHandleOp{Handle: openDirOp.Handle}))
}

func (s *DispatchSuite) TestRmDirNonEmptyMapsToENOTEMPTY() {
	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "parent", Mode: 0755}
	s.Require().NoError(s.fs.MkDir(mkdirOp))
	childOp := &fuseops.CreateFileOp{Parent: mkdirOp.Entry.Child, Name: "child", Mode: 0644}
	s.Require().NoError(s.fs.CreateFile(childOp))

	err := s.fs.RmDir(&fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "parent"})
	s.Equal(syscall.Errno(unix.ENOTEMPTY), err)
}

func (s *DispatchSuite) TestRenameMovesEntry() {
	s.Require().NoError(s.fs.CreateFile(&fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a", Mode: 0644}))

	renameOp := &fuseops.RenameOp{OldParent: fuseops.RootInodeID, OldName: "a", NewParent: fuseops.RootInodeID, NewName: "b"}
	s.Require().NoError(s.fs.Rename(renameOp))

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "b"}
	s.Require().NoError(s.fs.LookUpInode(lookupOp))
}

func TestDispatchSuite(t *testing.T) {
	suite.Run(t, new(DispatchSuite))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		in   error
		want syscall.Errno
	}{
		{backend.ErrNotExist, syscall.Errno(unix.ENOENT)},
		{backend.ErrExist, syscall.Errno(unix.EEXIST)},
		{backend.ErrNotDir, syscall.Errno(unix.ENOTDIR)},
		{backend.ErrIsDir, syscall.Errno(unix.EISDIR)},
		{backend.ErrNotEmpty, syscall.Errno(unix.ENOTEMPTY)},
		{backend.ErrInvalid, syscall.Errno(unix.EINVAL)},
		{backend.ErrPermission, syscall.Errno(unix.EACCES)},
		{backend.ErrNotSymlink, syscall.Errno(unix.EINVAL)},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, errno(tc.in))
	}
	require.NoError(t, errno(nil))
}
