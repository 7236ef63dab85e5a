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

// Package sqlitechunked implements the chunked persistent backend: regular
// file content is partitioned into chunk_size-aligned rows, so reads and
// writes touch only the chunks they overlap instead of rewriting a whole
// blob. This is the hardest of the three backends (spec Sec 4.5): the
// read/write/truncate chunk math has no direct teacher analogue and follows
// the spec's algorithm directly.
package sqlitechunked

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/benallfree/dofs/internal/attrs"
	"github.com/benallfree/dofs/internal/backend"
	"github.com/benallfree/dofs/internal/clock"
)

// ProviderName is the name this backend registers under and that
// cfg.ProviderSQLiteChunked must match.
const ProviderName = "sqlite_chunked"

func init() {
	backend.Register(ProviderName, func(dbPath string, chunkSize int) (backend.Backend, error) {
		return New(dbPath, chunkSize, clock.Real())
	})
}

// DefaultChunkSize is used when New is called with a non-positive chunkSize.
const DefaultChunkSize = 4096

const schema = `
CREATE TABLE IF NOT EXISTS files (
	ino INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	parent INTEGER,
	is_dir INTEGER NOT NULL,
	data BLOB NOT NULL DEFAULT x'',
	attr BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_parent_name ON files(parent, name);
CREATE INDEX IF NOT EXISTS idx_files_parent ON files(parent);
CREATE INDEX IF NOT EXISTS idx_files_name ON files(name);

CREATE TABLE IF NOT EXISTS chunks (
	ino INTEGER NOT NULL,
	offset INTEGER NOT NULL,
	data BLOB NOT NULL,
	length INTEGER NOT NULL,
	PRIMARY KEY (ino, offset)
);
CREATE INDEX IF NOT EXISTS idx_chunks_ino ON chunks(ino);
CREATE INDEX IF NOT EXISTS idx_chunks_ino_offset ON chunks(ino, offset);
`

// SQLiteChunked is the chunked persistent backend (spec Sec 4.5).
type SQLiteChunked struct {
	mu        sync.Mutex
	db        *sql.DB
	clock     clock.Clock
	chunkSize int64
}

// New opens (creating if absent) the sqlite database at dbPath, sized to
// chunkSize-byte chunks, and ensures the schema and root row exist. A
// non-positive chunkSize is replaced with DefaultChunkSize.
func New(dbPath string, chunkSize int, c clock.Clock) (*SQLiteChunked, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlitechunked: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitechunked: schema: %w", err)
	}

	s := &SQLiteChunked{db: db, clock: c, chunkSize: int64(chunkSize)}
	if err := s.ensureRoot(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteChunked) ensureRoot() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files WHERE ino = ?", backend.RootInodeID).Scan(&count); err != nil {
		return fmt.Errorf("sqlitechunked: ensureRoot: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := s.clock.Now()
	attr := attrs.Record{
		Kind:   attrs.KindDirectory,
		Nlink:  2,
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
	}
	encoded, err := attrs.Encode(attr)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO files (ino, name, parent, is_dir, data, attr) VALUES (?, '/', NULL, 1, x'', ?)",
		backend.RootInodeID, encoded,
	)
	return err
}

func (s *SQLiteChunked) nextInode() (backend.InodeID, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(ino) FROM files").Scan(&max); err != nil {
		return 0, err
	}
	next := backend.InodeID(max.Int64 + 1)
	if next < backend.FirstUserInodeID {
		next = backend.FirstUserInodeID
	}
	return next, nil
}

type queryer interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type row struct {
	ino   backend.InodeID
	name  string
	isDir bool
	data  []byte // symlink target only
	attr  attrs.Record
}

func (s *SQLiteChunked) decodeAttr(raw []byte) (attrs.Record, error) {
	r, err := attrs.Decode(raw)
	if err != nil {
		return attrs.Record{}, err
	}
	return r.ClampAll(s.clock.Now()), nil
}

func (s *SQLiteChunked) getByInode(q queryer, ino backend.InodeID) (row, error) {
	var r row
	var isDir int
	var attrBlob []byte
	err := q.QueryRow("SELECT ino, name, is_dir, data, attr FROM files WHERE ino = ?", ino).
		Scan(&r.ino, &r.name, &isDir, &r.data, &attrBlob)
	if err == sql.ErrNoRows {
		return row{}, backend.ErrNotExist
	}
	if err != nil {
		return row{}, err
	}
	r.isDir = isDir != 0
	r.attr, err = s.decodeAttr(attrBlob)
	if err != nil {
		return row{}, err
	}
	return r, nil
}

func (s *SQLiteChunked) getByName(q queryer, parent backend.InodeID, name string) (row, error) {
	var r row
	var isDir int
	var attrBlob []byte
	err := q.QueryRow(
		"SELECT ino, name, is_dir, data, attr FROM files WHERE parent = ? AND name = ?",
		parent, name,
	).Scan(&r.ino, &r.name, &isDir, &r.data, &attrBlob)
	if err == sql.ErrNoRows {
		return row{}, backend.ErrNotExist
	}
	if err != nil {
		return row{}, err
	}
	r.isDir = isDir != 0
	r.attr, err = s.decodeAttr(attrBlob)
	if err != nil {
		return row{}, err
	}
	return r, nil
}

func (s *SQLiteChunked) Lookup(parent backend.InodeID, name string) (attrs.Record, backend.InodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getByInode(s.db, parent)
	if err != nil {
		return attrs.Record{}, 0, err
	}
	if !p.isDir {
		return attrs.Record{}, 0, backend.ErrNotDir
	}

	child, err := s.getByName(s.db, parent, name)
	if err != nil {
		return attrs.Record{}, 0, err
	}
	return child.attr, child.ino, nil
}

func (s *SQLiteChunked) GetAttr(inode backend.InodeID) (attrs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getByInode(s.db, inode)
	if err != nil {
		return attrs.Record{}, err
	}
	return r.attr, nil
}

func (s *SQLiteChunked) SetAttr(inode backend.InodeID, req backend.SetAttrRequest) (attrs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getByInode(s.db, inode)
	if err != nil {
		return attrs.Record{}, err
	}

	if req.Size != nil && r.attr.Kind != attrs.KindFile {
		return attrs.Record{}, backend.ErrInvalid
	}

	now := s.clock.Now()
	if req.Mode != nil {
		r.attr.Mode = (r.attr.Mode &^ os.ModePerm) | modeBits(*req.Mode)
	}
	if req.Uid != nil {
		r.attr.Uid = *req.Uid
	}
	if req.Gid != nil {
		r.attr.Gid = *req.Gid
	}
	if req.Atime != nil {
		r.attr.Atime = timeFromUnixNano(*req.Atime)
	}
	if req.Mtime != nil {
		r.attr.Mtime = timeFromUnixNano(*req.Mtime)
	}
	if req.Ctime != nil {
		r.attr.Ctime = timeFromUnixNano(*req.Ctime)
	} else {
		r.attr.Ctime = now
	}

	if req.Size != nil {
		tx, err := s.db.Begin()
		if err != nil {
			return attrs.Record{}, err
		}
		defer tx.Rollback()

		if err := s.truncateLocked(tx, inode, *req.Size); err != nil {
			return attrs.Record{}, err
		}
		r.attr.Size = *req.Size
		r.attr.Mtime = now
		r.attr.Ctime = now

		encoded, err := attrs.Encode(r.attr)
		if err != nil {
			return attrs.Record{}, err
		}
		if _, err := tx.Exec("UPDATE files SET attr = ? WHERE ino = ?", encoded, inode); err != nil {
			return attrs.Record{}, fmt.Errorf("sqlitechunked: SetAttr: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return attrs.Record{}, err
		}
		return r.attr, nil
	}

	encoded, err := attrs.Encode(r.attr)
	if err != nil {
		return attrs.Record{}, err
	}
	if _, err := s.db.Exec("UPDATE files SET attr = ? WHERE ino = ?", encoded, inode); err != nil {
		return attrs.Record{}, fmt.Errorf("sqlitechunked: SetAttr: %w", err)
	}
	return r.attr, nil
}

func (s *SQLiteChunked) ReadDir(inode backend.InodeID, offset uint64) ([]backend.DirEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.getByInode(s.db, inode)
	if err != nil {
		return nil, err
	}
	if !dir.isDir {
		return nil, backend.ErrNotDir
	}

	rows, err := s.db.Query("SELECT ino, name, attr FROM files WHERE parent = ? ORDER BY ino", inode)
	if err != nil {
		return nil, fmt.Errorf("sqlitechunked: ReadDir: %w", err)
	}
	defer rows.Close()

	all := []backend.DirEntry{
		{Inode: inode, Kind: attrs.KindDirectory, Name: ".", Cookie: 0},
		{Inode: backend.RootInodeID, Kind: attrs.KindDirectory, Name: "..", Cookie: 1},
	}
	cookie := uint64(2)
	for rows.Next() {
		var ino backend.InodeID
		var name string
		var attrBlob []byte
		if err := rows.Scan(&ino, &name, &attrBlob); err != nil {
			return nil, err
		}
		childAttr, err := s.decodeAttr(attrBlob)
		if err != nil {
			return nil, err
		}
		all = append(all, backend.DirEntry{Inode: ino, Kind: childAttr.Kind, Name: name, Cookie: cookie})
		cookie++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if offset >= uint64(len(all)) {
		return nil, nil
	}
	return all[offset:], nil
}

func (s *SQLiteChunked) create(parent backend.InodeID, name string, mode uint32, kind attrs.Kind, symlinkTarget []byte) (attrs.Record, backend.InodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getByInode(s.db, parent)
	if err != nil {
		return attrs.Record{}, 0, err
	}
	if !p.isDir {
		return attrs.Record{}, 0, backend.ErrNotDir
	}
	if _, err := s.getByName(s.db, parent, name); err == nil {
		return attrs.Record{}, 0, backend.ErrExist
	} else if err != backend.ErrNotExist {
		return attrs.Record{}, 0, err
	}

	ino, err := s.nextInode()
	if err != nil {
		return attrs.Record{}, 0, err
	}

	now := s.clock.Now()
	nlink := uint32(1)
	isDir := 0
	if kind == attrs.KindDirectory {
		nlink = 2
		isDir = 1
	}
	attr := attrs.Record{
		Kind:   kind,
		Mode:   modeBits(mode),
		Nlink:  nlink,
		Size:   uint64(len(symlinkTarget)),
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
	}
	encoded, err := attrs.Encode(attr)
	if err != nil {
		return attrs.Record{}, 0, err
	}
	_, err = s.db.Exec(
		"INSERT INTO files (ino, name, parent, is_dir, data, attr) VALUES (?, ?, ?, ?, ?, ?)",
		ino, name, parent, isDir, symlinkTarget, encoded,
	)
	if err != nil {
		return attrs.Record{}, 0, fmt.Errorf("sqlitechunked: create: %w", err)
	}

	return attr, ino, nil
}

func (s *SQLiteChunked) Mkdir(parent backend.InodeID, name string, mode uint32) (attrs.Record, backend.InodeID, error) {
	return s.create(parent, name, mode, attrs.KindDirectory, nil)
}

func (s *SQLiteChunked) Create(parent backend.InodeID, name string, mode uint32) (attrs.Record, backend.InodeID, error) {
	return s.create(parent, name, mode, attrs.KindFile, nil)
}

func (s *SQLiteChunked) Symlink(parent backend.InodeID, name string, target string) (attrs.Record, backend.InodeID, error) {
	return s.create(parent, name, 0777, attrs.KindSymlink, []byte(target))
}

func (s *SQLiteChunked) Readlink(inode backend.InodeID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getByInode(s.db, inode)
	if err != nil {
		return "", err
	}
	if r.attr.Kind != attrs.KindSymlink {
		return "", backend.ErrNotSymlink
	}
	return string(r.data), nil
}

// Read implements the chunk-aligned read algorithm of spec Sec 4.5: clamp to
// the file's size, fetch only the chunks overlapping the requested range,
// and let any chunk missing from storage contribute zeros.
func (s *SQLiteChunked) Read(inode backend.InodeID, offset int64, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getByInode(s.db, inode)
	if err != nil {
		return nil, err
	}
	if r.attr.Kind == attrs.KindSymlink {
		return nil, backend.ErrInvalid
	}
	if r.attr.Kind != attrs.KindFile {
		return nil, backend.ErrIsDir
	}

	if offset < 0 {
		offset = 0
	}
	remaining := int64(0)
	if int64(r.attr.Size) > offset {
		remaining = int64(r.attr.Size) - offset
	}
	clamped := int64(size)
	if clamped > remaining {
		clamped = remaining
	}
	if clamped <= 0 {
		return []byte{}, nil
	}

	out := make([]byte, clamped)

	chunkStart := alignDown(offset, s.chunkSize)
	chunkEnd := alignUp(offset+clamped, s.chunkSize)

	rows, err := s.db.Query(
		"SELECT offset, data, length FROM chunks WHERE ino = ? AND offset >= ? AND offset < ? ORDER BY offset",
		inode, chunkStart, chunkEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitechunked: Read: %w", err)
	}
	defer rows.Close()

	reqEnd := offset + clamped
	for rows.Next() {
		var chunkOffset, length int64
		var data []byte
		if err := rows.Scan(&chunkOffset, &data, &length); err != nil {
			return nil, err
		}
		lo := chunkOffset
		hi := chunkOffset + length
		if hi < lo+int64(len(data)) {
			hi = lo + int64(len(data))
		}
		overlapLo := max64(lo, offset)
		overlapHi := min64(hi, reqEnd)
		if overlapHi <= overlapLo {
			continue
		}
		srcStart := overlapLo - chunkOffset
		srcEnd := overlapHi - chunkOffset
		if srcEnd > int64(len(data)) {
			srcEnd = int64(len(data))
		}
		if srcStart >= srcEnd {
			continue
		}
		copy(out[overlapLo-offset:], data[srcStart:srcEnd])
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Write implements the chunk-aligned write algorithm of spec Sec 4.5:
// iterate chunk by chunk, loading (or zero-initializing) each touched chunk,
// splicing the input into it, and upserting it with a stored length that
// accounts for the file's new overall size.
func (s *SQLiteChunked) Write(inode backend.InodeID, offset int64, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getByInode(s.db, inode)
	if err != nil {
		return 0, err
	}
	if r.attr.Kind != attrs.KindFile {
		return 0, backend.ErrIsDir
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	newSize := int64(r.attr.Size)
	if offset+int64(len(data)) > newSize {
		newSize = offset + int64(len(data))
	}

	abs := offset
	remainingInput := data
	for len(remainingInput) > 0 {
		chunkOff := alignDown(abs, s.chunkSize)
		inChunk := abs - chunkOff
		n := s.chunkSize - inChunk
		if n > int64(len(remainingInput)) {
			n = int64(len(remainingInput))
		}

		buf, err := s.loadChunkForWrite(tx, inode, chunkOff)
		if err != nil {
			return 0, err
		}

		copy(buf[inChunk:inChunk+n], remainingInput[:n])

		storedLen := s.chunkSize
		if chunkOff+s.chunkSize > newSize {
			storedLen = newSize - chunkOff
			if storedLen > s.chunkSize {
				storedLen = s.chunkSize
			}
		}
		if storedLen < 0 {
			storedLen = 0
		}
		buf = buf[:storedLen]

		if _, err := tx.Exec(
			"INSERT INTO chunks (ino, offset, data, length) VALUES (?, ?, ?, ?) "+
				"ON CONFLICT(ino, offset) DO UPDATE SET data = excluded.data, length = excluded.length",
			inode, chunkOff, buf, storedLen,
		); err != nil {
			return 0, fmt.Errorf("sqlitechunked: Write: upsert chunk: %w", err)
		}

		abs += n
		remainingInput = remainingInput[n:]
	}

	now := s.clock.Now()
	r.attr.Size = uint64(newSize)
	r.attr.Mtime = now
	r.attr.Ctime = now
	encoded, err := attrs.Encode(r.attr)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec("UPDATE files SET attr = ? WHERE ino = ?", encoded, inode); err != nil {
		return 0, fmt.Errorf("sqlitechunked: Write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return len(data), nil
}

// loadChunkForWrite returns a full chunk_size-length buffer for chunkOff,
// loading the existing row (padding it to chunk_size if it was the short
// final chunk) or zero-initializing one if absent.
func (s *SQLiteChunked) loadChunkForWrite(tx *sql.Tx, inode backend.InodeID, chunkOff int64) ([]byte, error) {
	var data []byte
	var length int64
	err := tx.QueryRow("SELECT data, length FROM chunks WHERE ino = ? AND offset = ?", inode, chunkOff).Scan(&data, &length)
	if err == sql.ErrNoRows {
		return make([]byte, s.chunkSize), nil
	}
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < s.chunkSize {
		padded := make([]byte, s.chunkSize)
		copy(padded, data)
		return padded, nil
	}
	return data, nil
}

// truncateLocked implements spec Sec 4.5's Truncate algorithm. Caller holds
// s.mu and an open transaction.
func (s *SQLiteChunked) truncateLocked(tx *sql.Tx, inode backend.InodeID, newSize uint64) error {
	aligned := alignDown(int64(newSize), s.chunkSize)

	// Keep the boundary chunk at aligned (if newSize is mid-chunk) so its
	// leading bytes survive; it is cut down below.
	if _, err := tx.Exec("DELETE FROM chunks WHERE ino = ? AND offset >= ?", inode, alignUp(int64(newSize), s.chunkSize)); err != nil {
		return fmt.Errorf("sqlitechunked: truncate: delete trailing chunks: %w", err)
	}

	if int64(newSize)%s.chunkSize != 0 {
		boundaryLen := int64(newSize) - aligned

		var data []byte
		var length int64
		err := tx.QueryRow("SELECT data, length FROM chunks WHERE ino = ? AND offset = ?", inode, aligned).Scan(&data, &length)
		if err == sql.ErrNoRows {
			data = make([]byte, boundaryLen)
		} else if err != nil {
			return err
		} else {
			resized := make([]byte, boundaryLen)
			copy(resized, data)
			data = resized
		}

		if _, err := tx.Exec(
			"INSERT INTO chunks (ino, offset, data, length) VALUES (?, ?, ?, ?) "+
				"ON CONFLICT(ino, offset) DO UPDATE SET data = excluded.data, length = excluded.length",
			inode, aligned, data, boundaryLen,
		); err != nil {
			return fmt.Errorf("sqlitechunked: truncate: upsert boundary chunk: %w", err)
		}
	}

	return nil
}

func (s *SQLiteChunked) Unlink(parent backend.InodeID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	child, err := s.getByName(s.db, parent, name)
	if err != nil {
		return err
	}
	if child.isDir {
		return backend.ErrIsDir
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunks WHERE ino = ?", child.ino); err != nil {
		return fmt.Errorf("sqlitechunked: Unlink: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM files WHERE ino = ?", child.ino); err != nil {
		return fmt.Errorf("sqlitechunked: Unlink: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteChunked) Rmdir(parent backend.InodeID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	child, err := s.getByName(s.db, parent, name)
	if err != nil {
		return err
	}
	if !child.isDir {
		return backend.ErrNotDir
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files WHERE parent = ?", child.ino).Scan(&count); err != nil {
		return err
	}
	if count != 0 {
		return backend.ErrNotEmpty
	}

	if _, err := s.db.Exec("DELETE FROM files WHERE ino = ?", child.ino); err != nil {
		return fmt.Errorf("sqlitechunked: Rmdir: %w", err)
	}
	return nil
}

func (s *SQLiteChunked) Rename(parent backend.InodeID, name string, newParent backend.InodeID, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.getByName(s.db, parent, name)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if dst, err := s.getByName(tx, newParent, newName); err == nil {
		srcIsDir := src.attr.Kind == attrs.KindDirectory
		dstIsDir := dst.attr.Kind == attrs.KindDirectory
		if srcIsDir != dstIsDir {
			if dstIsDir {
				return backend.ErrIsDir
			}
			return backend.ErrNotDir
		}
		if dstIsDir {
			var count int
			if err := tx.QueryRow("SELECT COUNT(*) FROM files WHERE parent = ?", dst.ino).Scan(&count); err != nil {
				return err
			}
			if count != 0 {
				return backend.ErrNotEmpty
			}
		}
		if _, err := tx.Exec("DELETE FROM chunks WHERE ino = ?", dst.ino); err != nil {
			return fmt.Errorf("sqlitechunked: Rename: delete destination chunks: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM files WHERE ino = ?", dst.ino); err != nil {
			return fmt.Errorf("sqlitechunked: Rename: delete destination: %w", err)
		}
	} else if err != backend.ErrNotExist {
		return err
	}

	if _, err := tx.Exec("UPDATE files SET parent = ?, name = ? WHERE ino = ?", newParent, newName, src.ino); err != nil {
		return fmt.Errorf("sqlitechunked: Rename: reparent: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteChunked) Open(inode backend.InodeID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getByInode(s.db, inode); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *SQLiteChunked) Flush(inode backend.InodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.getByInode(s.db, inode)
	return err
}

func (s *SQLiteChunked) Release(inode backend.InodeID) error {
	return nil
}

// Close releases the underlying database connection. Not part of the
// backend.Backend contract; callers (the dispatcher, tests) close it during
// teardown.
func (s *SQLiteChunked) Close() error {
	return s.db.Close()
}

func alignDown(v, size int64) int64 {
	return (v / size) * size
}

func alignUp(v, size int64) int64 {
	return ((v + size - 1) / size) * size
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func modeBits(mode uint32) os.FileMode {
	return os.FileMode(mode & 0777)
}

func timeFromUnixNano(nanos int64) time.Time {
	return time.Unix(0, nanos)
}
