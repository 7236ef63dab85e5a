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

// Package dispatch adapts fuseops upcalls onto a backend.Backend, owns the
// `.fuse_ready` sentinel and the osx-mode `._` filter, and maps backend
// sentinel errors onto syscall errno values.
package dispatch

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benallfree/dofs/internal/attrs"
	"github.com/benallfree/dofs/internal/backend"
	"github.com/benallfree/dofs/internal/clock"
	"github.com/benallfree/dofs/internal/perms"
	"github.com/benallfree/dofs/internal/statsmetrics"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"
)

// attrTTL is the cache validity declared on every reply that carries
// attributes.
const attrTTL = 1 * time.Second

// readySentinelName is the synthetic root entry answered directly by the
// dispatcher, never forwarded to the backend.
const readySentinelName = ".fuse_ready"

// osxFilterPrefix marks names osx-mode hides and refuses to create.
const osxFilterPrefix = "._"

// dirHandle is the state behind a directory file-handle: the inode it was
// opened against. Entries are recomputed from the backend on every ReadDir
// call rather than cached, since the backend is the source of truth and
// readdir of a live mount is expected to observe concurrent changes.
type dirHandle struct {
	inode backend.InodeID
}

// FileSystem implements fuseutil.FileSystem by forwarding every upcall the
// backend contract covers onto a backend.Backend; everything else falls
// through to the embedded NotImplementedFileSystem, which answers ENOSYS.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	backend backend.Backend
	clock   clock.Clock
	osxMode bool
	metrics *statsmetrics.Recorder

	// uid/gid are the effective identity of the process that mounted the
	// file system; every inode created through this dispatcher is stamped
	// with them per spec §3's new-object ownership invariant, since the
	// backend contract itself carries no notion of "who is calling".
	uid uint32
	gid uint32

	readySentinelContent []byte

	// mu guards the handle tables below. The backend itself is driven by a
	// single-threaded cooperative dispatch loop (see spec concurrency
	// model), but handle bookkeeping is dispatcher-local state, so it gets
	// its own lock rather than relying on the host library's serialization.
	mu           sync.Mutex
	nextHandleID fuseops.HandleID
	dirHandles   map[fuseops.HandleID]*dirHandle

	// fileHandles maps a minted file handle to the inode it was opened
	// against. ReleaseFileHandleOp carries only the handle, not the inode,
	// so this is the only way to route a release onto backend.Release.
	fileHandles map[fuseops.HandleID]backend.InodeID
}

// New constructs a FileSystem serving backend b. c's reading at construction
// time stamps the ready sentinel's content.
func New(b backend.Backend, c clock.Clock, osxMode bool, metrics *statsmetrics.Recorder) *FileSystem {
	ts := c.Now().UnixNano() / int64(time.Millisecond)

	uid, gid, err := perms.MyUserAndGroup()
	if err != nil {
		// Only os/user lookup failures reach here (no such environment),
		// which ordinary mount invocations never hit; fall back to root
		// rather than fail the mount over an ownership nicety.
		uid, gid = 0, 0
	}

	return &FileSystem{
		backend:              b,
		clock:                c,
		osxMode:              osxMode,
		metrics:              metrics,
		uid:                  uid,
		gid:                  gid,
		readySentinelContent: []byte(strconv.FormatInt(ts, 10)),
		nextHandleID:         1,
		dirHandles:           make(map[fuseops.HandleID]*dirHandle),
		fileHandles:          make(map[fuseops.HandleID]backend.InodeID),
	}
}

// stampOwner applies the mount's effective uid/gid to a freshly created
// inode. A SetAttr error is ignored and r is returned unchanged: failing to
// stamp ownership is not a reason to fail the create/mkdir/symlink that
// already succeeded against the backend.
func (fs *FileSystem) stampOwner(inode backend.InodeID, r attrs.Record) attrs.Record {
	uid, gid := fs.uid, fs.gid
	updated, err := fs.backend.SetAttr(inode, backend.SetAttrRequest{Uid: &uid, Gid: &gid})
	if err != nil {
		return r
	}
	return updated
}

// mintHandleLocked allocates and returns the next handle ID. Callers hold fs.mu.
func (fs *FileSystem) mintHandleLocked() fuseops.HandleID {
	id := fs.nextHandleID
	fs.nextHandleID++
	return id
}

// record wraps an operation with latency measurement into metrics, named
// after the fuseops method that called it.
func (fs *FileSystem) record(op string, start time.Time) {
	if fs.metrics != nil {
		fs.metrics.Observe(op, fs.clock.Now().Sub(start))
	}
}

// errno maps a backend sentinel error (or nil) onto the error the host
// library expects: a plain nil, or a syscall.Errno the kernel surfaces to
// the calling process. Unrecognized errors are treated as an internal
// failure (EIO) rather than propagated raw, since the backend contract
// promises only the documented sentinels.
func errno(err error) error {
	switch err {
	case nil:
		return nil
	case backend.ErrNotExist:
		return syscall.Errno(unix.ENOENT)
	case backend.ErrExist:
		return syscall.Errno(unix.EEXIST)
	case backend.ErrNotDir:
		return syscall.Errno(unix.ENOTDIR)
	case backend.ErrIsDir:
		return syscall.Errno(unix.EISDIR)
	case backend.ErrNotEmpty:
		return syscall.Errno(unix.ENOTEMPTY)
	case backend.ErrInvalid:
		return syscall.Errno(unix.EINVAL)
	case backend.ErrPermission:
		return syscall.Errno(unix.EACCES)
	case backend.ErrNotSymlink:
		return syscall.Errno(unix.EINVAL)
	default:
		return syscall.Errno(unix.EIO)
	}
}

// osxBlocked reports whether name must be rejected from creation (or hidden
// from a listing) under the osx-mode filter.
func (fs *FileSystem) osxBlocked(name string) bool {
	return fs.osxMode && strings.HasPrefix(name, osxFilterPrefix)
}

// toFuseAttributes converts a backend attribute record to the wire type.
// Permission bits are always re-derived as r.Mode&os.ModePerm with the type
// bit freshly OR'd in from r.Kind, since backends disagree on whether Mode
// already carries the type bit alongside the permission bits.
func toFuseAttributes(r attrs.Record) fuseops.InodeAttributes {
	mode := (r.Mode & os.ModePerm) | kindModeBit(r.Kind)
	return fuseops.InodeAttributes{
		Size:   r.Size,
		Nlink:  r.Nlink,
		Mode:   mode,
		Atime:  r.Atime,
		Mtime:  r.Mtime,
		Ctime:  r.Ctime,
		Crtime: r.Crtime,
		Uid:    r.Uid,
		Gid:    r.Gid,
	}
}

// kindModeBit returns the os.FileMode type bit for k, or 0 for a regular
// file (which has no type bit set).
func kindModeBit(k attrs.Kind) os.FileMode {
	switch k {
	case attrs.KindDirectory:
		return os.ModeDir
	case attrs.KindSymlink:
		return os.ModeSymlink
	case attrs.KindBlockDevice:
		return os.ModeDevice
	case attrs.KindCharDevice:
		return os.ModeDevice | os.ModeCharDevice
	case attrs.KindPipe:
		return os.ModeNamedPipe
	case attrs.KindSocket:
		return os.ModeSocket
	default:
		return 0
	}
}

// direntType maps a backend kind to the FUSE wire dirent type.
func direntType(k attrs.Kind) fuseutil.DirentType {
	switch k {
	case attrs.KindDirectory:
		return fuseutil.DT_Directory
	case attrs.KindSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

// readySentinelAttributes returns the fixed attribute record for inode 2.
func (fs *FileSystem) readySentinelAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(len(fs.readySentinelContent)),
		Nlink: 1,
		Mode:  0444,
		Atime: fs.clock.Now(),
		Mtime: fs.clock.Now(),
		Ctime: fs.clock.Now(),
	}
}

////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) Init(op *fuseops.InitOp) (err error) {
	return nil
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) (err error) {
	defer fs.record("LookUpInode", fs.clock.Now())

	if op.Parent == backend.RootInodeID && op.Name == readySentinelName {
		op.Entry.Child = fuseops.InodeID(backend.ReadySentinelInodeID)
		op.Entry.Attributes = fs.readySentinelAttributes()
		op.Entry.AttributesExpiration = fs.clock.Now().Add(attrTTL)
		op.Entry.EntryExpiration = op.Entry.AttributesExpiration
		return nil
	}

	r, inode, err := fs.backend.Lookup(backend.InodeID(op.Parent), op.Name)
	if err != nil {
		return errno(err)
	}

	op.Entry.Child = fuseops.InodeID(inode)
	op.Entry.Attributes = toFuseAttributes(r)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(attrTTL)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) (err error) {
	defer fs.record("GetInodeAttributes", fs.clock.Now())

	if backend.InodeID(op.Inode) == backend.ReadySentinelInodeID {
		op.Attributes = fs.readySentinelAttributes()
		op.AttributesExpiration = fs.clock.Now().Add(attrTTL)
		return nil
	}

	r, err := fs.backend.GetAttr(backend.InodeID(op.Inode))
	if err != nil {
		return errno(err)
	}

	op.Attributes = toFuseAttributes(r)
	op.AttributesExpiration = fs.clock.Now().Add(attrTTL)
	return nil
}

func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) (err error) {
	defer fs.record("SetInodeAttributes", fs.clock.Now())

	var req backend.SetAttrRequest
	if op.Size != nil {
		req.Size = op.Size
	}
	if op.Mode != nil {
		mode := uint32(*op.Mode & os.ModePerm)
		req.Mode = &mode
	}
	if op.Atime != nil {
		nanos := op.Atime.UnixNano()
		req.Atime = &nanos
	}
	if op.Mtime != nil {
		nanos := op.Mtime.UnixNano()
		req.Mtime = &nanos
	}

	r, err := fs.backend.SetAttr(backend.InodeID(op.Inode), req)
	if err != nil {
		return errno(err)
	}

	op.Attributes = toFuseAttributes(r)
	op.AttributesExpiration = fs.clock.Now().Add(attrTTL)
	return nil
}

func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) (err error) {
	return nil
}

////////////////////////////////////////////////////////////////////////
// Inode creation
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) (err error) {
	defer fs.record("MkDir", fs.clock.Now())

	if fs.osxBlocked(op.Name) {
		return syscall.Errno(unix.EACCES)
	}

	r, inode, err := fs.backend.Mkdir(backend.InodeID(op.Parent), op.Name, uint32(op.Mode))
	if err != nil {
		return errno(err)
	}
	r = fs.stampOwner(inode, r)

	op.Entry.Child = fuseops.InodeID(inode)
	op.Entry.Attributes = toFuseAttributes(r)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(attrTTL)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) (err error) {
	defer fs.record("CreateFile", fs.clock.Now())

	if fs.osxBlocked(op.Name) {
		return syscall.Errno(unix.EACCES)
	}

	r, inode, err := fs.backend.Create(backend.InodeID(op.Parent), op.Name, uint32(op.Mode))
	if err != nil {
		return errno(err)
	}
	r = fs.stampOwner(inode, r)

	if _, err := fs.backend.Open(inode); err != nil {
		return errno(err)
	}

	fs.mu.Lock()
	handleID := fs.mintHandleLocked()
	fs.fileHandles[handleID] = inode
	fs.mu.Unlock()

	op.Entry.Child = fuseops.InodeID(inode)
	op.Entry.Attributes = toFuseAttributes(r)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(attrTTL)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	op.Handle = handleID
	return nil
}

func (fs *FileSystem) CreateSymlink(op *fuseops.CreateSymlinkOp) (err error) {
	defer fs.record("CreateSymlink", fs.clock.Now())

	if fs.osxBlocked(op.Name) {
		return syscall.Errno(unix.EACCES)
	}

	r, inode, err := fs.backend.Symlink(backend.InodeID(op.Parent), op.Name, op.Target)
	if err != nil {
		return errno(err)
	}
	r = fs.stampOwner(inode, r)

	op.Entry.Child = fuseops.InodeID(inode)
	op.Entry.Attributes = toFuseAttributes(r)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(attrTTL)
	op.Entry.EntryExpiration = op.Entry.AttributesExpiration
	return nil
}

////////////////////////////////////////////////////////////////////////
// Unlinking
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) (err error) {
	defer fs.record("RmDir", fs.clock.Now())

	err = fs.backend.Rmdir(backend.InodeID(op.Parent), op.Name)
	return errno(err)
}

func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) (err error) {
	defer fs.record("Unlink", fs.clock.Now())

	err = fs.backend.Unlink(backend.InodeID(op.Parent), op.Name)
	return errno(err)
}

func (fs *FileSystem) Rename(op *fuseops.RenameOp) (err error) {
	defer fs.record("Rename", fs.clock.Now())

	err = fs.backend.Rename(backend.InodeID(op.OldParent), op.OldName, backend.InodeID(op.NewParent), op.NewName)
	return errno(err)
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) (err error) {
	defer fs.record("OpenDir", fs.clock.Now())

	fs.mu.Lock()
	defer fs.mu.Unlock()

	handleID := fs.nextHandleID
	fs.nextHandleID++
	fs.dirHandles[handleID] = &dirHandle{inode: backend.InodeID(op.Inode)}
	op.Handle = handleID
	return nil
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) (err error) {
	defer fs.record("ReadDir", fs.clock.Now())

	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return syscall.Errno(unix.EINVAL)
	}

	entries, err := fs.entriesFor(dh.inode, op.Offset)
	if err != nil {
		return errno(err)
	}

	op.BytesRead = 0
	for _, d := range entries {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

// entriesFor returns the readdir entries for inode starting at offset,
// without the ready sentinel (reachable by lookup only) and, in osx-mode,
// without `._`-prefixed names. Cookies are renumbered to stay contiguous
// after filtering.
func (fs *FileSystem) entriesFor(inode backend.InodeID, offset fuseops.DirOffset) ([]fuseops.Dirent, error) {
	raw, err := fs.backend.ReadDir(inode, uint64(offset))
	if err != nil {
		return nil, err
	}

	out := make([]fuseops.Dirent, 0, len(raw))
	cookie := uint64(offset)

	for _, e := range raw {
		if fs.osxBlocked(e.Name) {
			continue
		}
		cookie++
		out = append(out, fuseops.Dirent{
			Offset: fuseops.DirOffset(cookie),
			Inode:  fuseops.InodeID(e.Inode),
			Name:   e.Name,
			Type:   direntType(e.Kind),
		})
	}
	return out, nil
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) (err error) {
	defer fs.record("ReleaseDirHandle", fs.clock.Now())

	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirHandles, op.Handle)
	return nil
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) (err error) {
	defer fs.record("OpenFile", fs.clock.Now())

	if backend.InodeID(op.Inode) == backend.ReadySentinelInodeID {
		op.Handle = 0
		return nil
	}

	if _, err := fs.backend.Open(backend.InodeID(op.Inode)); err != nil {
		return errno(err)
	}

	fs.mu.Lock()
	handleID := fs.mintHandleLocked()
	fs.fileHandles[handleID] = backend.InodeID(op.Inode)
	fs.mu.Unlock()

	op.Handle = handleID
	return nil
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) (err error) {
	defer fs.record("ReadFile", fs.clock.Now())

	if backend.InodeID(op.Inode) == backend.ReadySentinelInodeID {
		op.Data = readRange(fs.readySentinelContent, op.Offset, op.Size)
		return nil
	}

	op.Data, err = fs.backend.Read(backend.InodeID(op.Inode), op.Offset, op.Size)
	return errno(err)
}

// readRange slices content per fuseops.ReadFileOp semantics: returning
// fewer bytes than requested signals EOF, never an error.
func readRange(content []byte, offset int64, size int) []byte {
	if offset >= int64(len(content)) {
		return nil
	}
	end := offset + int64(size)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return content[offset:end]
}

func (fs *FileSystem) ReadSymlink(op *fuseops.ReadSymlinkOp) (err error) {
	defer fs.record("ReadSymlink", fs.clock.Now())

	target, err := fs.backend.Readlink(backend.InodeID(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Target = target
	return nil
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) (err error) {
	defer fs.record("WriteFile", fs.clock.Now())

	_, err = fs.backend.Write(backend.InodeID(op.Inode), op.Offset, op.Data)
	return errno(err)
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) (err error) {
	defer fs.record("FlushFile", fs.clock.Now())

	if backend.InodeID(op.Inode) == backend.ReadySentinelInodeID {
		return nil
	}

	err = fs.backend.Flush(backend.InodeID(op.Inode))
	return errno(err)
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) (err error) {
	defer fs.record("ReleaseFileHandle", fs.clock.Now())

	fs.mu.Lock()
	inode, ok := fs.fileHandles[op.Handle]
	delete(fs.fileHandles, op.Handle)
	fs.mu.Unlock()

	if !ok || inode == backend.ReadySentinelInodeID {
		return nil
	}

	err = fs.backend.Release(inode)
	return errno(err)
}
