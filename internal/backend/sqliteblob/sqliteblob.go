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

// Package sqliteblob implements the single-blob persistent backend: one row
// per node, with a regular file's entire content living as a single BLOB
// column that is rewritten whole on every write.
package sqliteblob

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
// cfg.ProviderSQLiteSimple must match.
const ProviderName = "sqlite_simple"

func init() {
	backend.Register(ProviderName, func(dbPath string, _ int) (backend.Backend, error) {
		return New(dbPath, clock.Real())
	})
}

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
`

// SQLiteBlob is the single-blob persistent backend (spec Sec 4.4).
type SQLiteBlob struct {
	mu    sync.Mutex
	db    *sql.DB
	clock clock.Clock
}

// New opens (creating if absent) the sqlite database at dbPath and ensures
// the schema and root row exist.
func New(dbPath string, c clock.Clock) (*SQLiteBlob, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqliteblob: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteblob: schema: %w", err)
	}

	s := &SQLiteBlob{db: db, clock: c}
	if err := s.ensureRoot(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteBlob) ensureRoot() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files WHERE ino = ?", backend.RootInodeID).Scan(&count); err != nil {
		return fmt.Errorf("sqliteblob: ensureRoot: %w", err)
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

func (s *SQLiteBlob) nextInode() (backend.InodeID, error) {
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

type row struct {
	ino    backend.InodeID
	name   string
	parent sql.NullInt64
	isDir  bool
	data   []byte
	attr   attrs.Record
}

func (s *SQLiteBlob) decodeAttr(raw []byte) (attrs.Record, error) {
	r, err := attrs.Decode(raw)
	if err != nil {
		return attrs.Record{}, err
	}
	return r.ClampAll(s.clock.Now()), nil
}

func (s *SQLiteBlob) getByInode(q queryer, ino backend.InodeID) (row, error) {
	var r row
	var parent sql.NullInt64
	var isDir int
	var attrBlob []byte
	err := q.QueryRow("SELECT ino, name, parent, is_dir, data, attr FROM files WHERE ino = ?", ino).
		Scan(&r.ino, &r.name, &parent, &isDir, &r.data, &attrBlob)
	if err == sql.ErrNoRows {
		return row{}, backend.ErrNotExist
	}
	if err != nil {
		return row{}, err
	}
	r.parent = parent
	r.isDir = isDir != 0
	r.attr, err = s.decodeAttr(attrBlob)
	if err != nil {
		return row{}, err
	}
	return r, nil
}

func (s *SQLiteBlob) getByName(q queryer, parent backend.InodeID, name string) (row, error) {
	var r row
	var parentCol sql.NullInt64
	var isDir int
	var attrBlob []byte
	err := q.QueryRow(
		"SELECT ino, name, parent, is_dir, data, attr FROM files WHERE parent = ? AND name = ?",
		parent, name,
	).Scan(&r.ino, &r.name, &parentCol, &isDir, &r.data, &attrBlob)
	if err == sql.ErrNoRows {
		return row{}, backend.ErrNotExist
	}
	if err != nil {
		return row{}, err
	}
	r.parent = parentCol
	r.isDir = isDir != 0
	r.attr, err = s.decodeAttr(attrBlob)
	if err != nil {
		return row{}, err
	}
	return r, nil
}

// queryer is the subset of *sql.DB / *sql.Tx that row lookups need, so the
// same helpers work inside and outside a transaction.
type queryer interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteBlob) Lookup(parent backend.InodeID, name string) (attrs.Record, backend.InodeID, error) {
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

func (s *SQLiteBlob) GetAttr(inode backend.InodeID) (attrs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getByInode(s.db, inode)
	if err != nil {
		return attrs.Record{}, err
	}
	return r.attr, nil
}

func (s *SQLiteBlob) SetAttr(inode backend.InodeID, req backend.SetAttrRequest) (attrs.Record, error) {
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
	data := r.data
	if req.Mode != nil {
		r.attr.Mode = (r.attr.Mode &^ os.ModePerm) | modeBits(*req.Mode)
	}
	if req.Uid != nil {
		r.attr.Uid = *req.Uid
	}
	if req.Gid != nil {
		r.attr.Gid = *req.Gid
	}
	if req.Size != nil {
		data = resize(data, *req.Size)
		r.attr.Size = *req.Size
		r.attr.Mtime = now
		r.attr.Ctime = now
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

	encoded, err := attrs.Encode(r.attr)
	if err != nil {
		return attrs.Record{}, err
	}
	if _, err := s.db.Exec("UPDATE files SET data = ?, attr = ? WHERE ino = ?", data, encoded, inode); err != nil {
		return attrs.Record{}, fmt.Errorf("sqliteblob: SetAttr: %w", err)
	}

	return r.attr, nil
}

func (s *SQLiteBlob) ReadDir(inode backend.InodeID, offset uint64) ([]backend.DirEntry, error) {
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
		return nil, fmt.Errorf("sqliteblob: ReadDir: %w", err)
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

func (s *SQLiteBlob) create(parent backend.InodeID, name string, mode uint32, kind attrs.Kind, data []byte) (attrs.Record, backend.InodeID, error) {
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
		Size:   uint64(len(data)),
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
		ino, name, parent, isDir, data, encoded,
	)
	if err != nil {
		return attrs.Record{}, 0, fmt.Errorf("sqliteblob: create: %w", err)
	}

	return attr, ino, nil
}

func (s *SQLiteBlob) Mkdir(parent backend.InodeID, name string, mode uint32) (attrs.Record, backend.InodeID, error) {
	return s.create(parent, name, mode, attrs.KindDirectory, nil)
}

func (s *SQLiteBlob) Create(parent backend.InodeID, name string, mode uint32) (attrs.Record, backend.InodeID, error) {
	return s.create(parent, name, mode, attrs.KindFile, nil)
}

func (s *SQLiteBlob) Symlink(parent backend.InodeID, name string, target string) (attrs.Record, backend.InodeID, error) {
	return s.create(parent, name, 0777, attrs.KindSymlink, []byte(target))
}

func (s *SQLiteBlob) Readlink(inode backend.InodeID) (string, error) {
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

func (s *SQLiteBlob) Read(inode backend.InodeID, offset int64, size int) ([]byte, error) {
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

	if offset < 0 || offset >= int64(len(r.data)) {
		return []byte{}, nil
	}
	end := offset + int64(size)
	if end > int64(len(r.data)) {
		end = int64(len(r.data))
	}
	out := make([]byte, end-offset)
	copy(out, r.data[offset:end])
	return out, nil
}

func (s *SQLiteBlob) Write(inode backend.InodeID, offset int64, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getByInode(s.db, inode)
	if err != nil {
		return 0, err
	}
	if r.attr.Kind != attrs.KindFile {
		return 0, backend.ErrIsDir
	}

	end := offset + int64(len(data))
	content := r.data
	if end > int64(len(content)) {
		grown := make([]byte, end)
		copy(grown, content)
		content = grown
	}
	copy(content[offset:end], data)

	now := s.clock.Now()
	r.attr.Size = uint64(len(content))
	r.attr.Mtime = now
	r.attr.Ctime = now

	encoded, err := attrs.Encode(r.attr)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec("UPDATE files SET data = ?, attr = ? WHERE ino = ?", content, encoded, inode); err != nil {
		return 0, fmt.Errorf("sqliteblob: Write: %w", err)
	}

	return len(data), nil
}

func (s *SQLiteBlob) Unlink(parent backend.InodeID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	child, err := s.getByName(s.db, parent, name)
	if err != nil {
		return err
	}
	if child.isDir {
		return backend.ErrIsDir
	}

	if _, err := s.db.Exec("DELETE FROM files WHERE ino = ?", child.ino); err != nil {
		return fmt.Errorf("sqliteblob: Unlink: %w", err)
	}
	return nil
}

func (s *SQLiteBlob) Rmdir(parent backend.InodeID, name string) error {
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
		return fmt.Errorf("sqliteblob: Rmdir: %w", err)
	}
	return nil
}

func (s *SQLiteBlob) Rename(parent backend.InodeID, name string, newParent backend.InodeID, newName string) error {
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
		if _, err := tx.Exec("DELETE FROM files WHERE ino = ?", dst.ino); err != nil {
			return fmt.Errorf("sqliteblob: Rename: delete destination: %w", err)
		}
	} else if err != backend.ErrNotExist {
		return err
	}

	if _, err := tx.Exec("UPDATE files SET parent = ?, name = ? WHERE ino = ?", newParent, newName, src.ino); err != nil {
		return fmt.Errorf("sqliteblob: Rename: reparent: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteBlob) Open(inode backend.InodeID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getByInode(s.db, inode); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *SQLiteBlob) Flush(inode backend.InodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.getByInode(s.db, inode)
	return err
}

func (s *SQLiteBlob) Release(inode backend.InodeID) error {
	return nil
}

// Close releases the underlying database connection. Not part of the
// backend.Backend contract; callers (the dispatcher, tests) close it during
// teardown.
func (s *SQLiteBlob) Close() error {
	return s.db.Close()
}

func resize(data []byte, size uint64) []byte {
	if size <= uint64(len(data)) {
		return data[:size]
	}
	grown := make([]byte, size)
	copy(grown, data)
	return grown
}

func modeBits(mode uint32) os.FileMode {
	return os.FileMode(mode & 0777)
}

func timeFromUnixNano(nanos int64) time.Time {
	return time.Unix(0, nanos)
}
