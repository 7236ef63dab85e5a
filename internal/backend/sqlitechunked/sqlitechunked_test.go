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

package sqlitechunked_test

import (
	"path/filepath"
	"testing"

	"github.com/benallfree/dofs/internal/backend"
	"github.com/benallfree/dofs/internal/backend/backendtest"
	"github.com/benallfree/dofs/internal/backend/sqlitechunked"
	"github.com/benallfree/dofs/internal/clock"
	"github.com/benallfree/dofs/internal/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testChunkSize = 16

func newChunked(t *testing.T) *sqlitechunked.SQLiteChunked {
	dbPath := filepath.Join(t.TempDir(), "fs.db")
	b, err := sqlitechunked.New(dbPath, testChunkSize, clock.Real())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteChunkedBackendContract(t *testing.T) {
	suite.Run(t, &backendtest.BackendContractSuite{
		New: func(t *testing.T) backend.Backend {
			return newChunked(t)
		},
		OverwritesRenameDestination: true,
	})
}

// TestWriteSpanningMultipleChunks verifies a single write crossing several
// chunk boundaries reassembles correctly on read, including the partial
// first and last chunks.
func TestWriteSpanningMultipleChunks(t *testing.T) {
	b := newChunked(t)
	_, inode, err := b.Create(backend.RootInodeID, "spans.bin", 0644)
	require.NoError(t, err)

	payload := make([]byte, 50)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := b.Write(inode, 5, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	got, err := b.Read(inode, 5, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)

	attr, err := b.GetAttr(inode)
	require.NoError(t, err)
	require.Equal(t, uint64(55), attr.Size)
}

// TestWriteLeavesGapAsZero checks that bytes never written within an
// allocated chunk read back as zero.
func TestWriteLeavesGapAsZero(t *testing.T) {
	b := newChunked(t)
	_, inode, err := b.Create(backend.RootInodeID, "gap.bin", 0644)
	require.NoError(t, err)

	_, err = b.Write(inode, 0, []byte("AB"))
	require.NoError(t, err)
	_, err = b.Write(inode, 10, []byte("CD"))
	require.NoError(t, err)

	got, err := b.Read(inode, 0, 12)
	require.NoError(t, err)

	want := make([]byte, 12)
	want[0] = 'A'
	want[1] = 'B'
	want[10] = 'C'
	want[11] = 'D'
	require.Equal(t, want, got)
}

// TestTruncateAtChunkBoundaryDeletesTrailingChunks verifies a truncate that
// lands exactly on a chunk boundary removes every chunk at or past it and
// leaves nothing to pad.
func TestTruncateAtChunkBoundaryDeletesTrailingChunks(t *testing.T) {
	b := newChunked(t)
	_, inode, err := b.Create(backend.RootInodeID, "boundary.bin", 0644)
	require.NoError(t, err)

	_, err = b.Write(inode, 0, make([]byte, testChunkSize*3))
	require.NoError(t, err)

	size := uint64(testChunkSize * 2)
	attr, err := b.SetAttr(inode, backend.SetAttrRequest{Size: &size})
	require.NoError(t, err)
	require.Equal(t, size, attr.Size)

	got, err := b.Read(inode, 0, int(size)+testChunkSize)
	require.NoError(t, err)
	require.Len(t, got, int(size))
}

// TestTruncateMidChunkPadsBoundaryChunk verifies a truncate landing inside a
// chunk resizes that chunk down and that re-extending the file past it
// reads zeros rather than stale bytes beyond the new boundary.
func TestTruncateMidChunkPadsBoundaryChunk(t *testing.T) {
	b := newChunked(t)
	_, inode, err := b.Create(backend.RootInodeID, "mid.bin", 0644)
	require.NoError(t, err)

	full := make([]byte, testChunkSize)
	for i := range full {
		full[i] = 0xFF
	}
	_, err = b.Write(inode, 0, full)
	require.NoError(t, err)

	size := uint64(testChunkSize/2 + 3)
	attr, err := b.SetAttr(inode, backend.SetAttrRequest{Size: &size})
	require.NoError(t, err)
	require.Equal(t, size, attr.Size)

	got, err := b.Read(inode, 0, int(size))
	require.NoError(t, err)
	for _, bb := range got {
		require.Equal(t, byte(0xFF), bb)
	}

	grownSize := uint64(testChunkSize)
	_, err = b.SetAttr(inode, backend.SetAttrRequest{Size: &grownSize})
	require.NoError(t, err)

	got, err = b.Read(inode, 0, testChunkSize)
	require.NoError(t, err)
	for i := int(size); i < testChunkSize; i++ {
		require.Equalf(t, byte(0), got[i], "byte %d should read as zero after shrink-then-grow", i)
	}
}

// TestRandomContentSurvivesMultiChunkRoundTrip writes several chunks' worth
// of random content spanning a non-aligned offset and checks it reads back
// byte for byte, exercising the chunk-splice path with data that isn't a
// repeating fill pattern.
func TestRandomContentSurvivesMultiChunkRoundTrip(t *testing.T) {
	b := newChunked(t)
	_, inode, err := b.Create(backend.RootInodeID, "random.bin", 0644)
	require.NoError(t, err)

	payload := testutil.GenerateRandomBytes(testChunkSize*5 + 3)

	n, err := b.Write(inode, 7, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	got, err := b.Read(inode, 7, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestSQLiteChunkedResumesAllocationAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fs.db")

	b, err := sqlitechunked.New(dbPath, testChunkSize, clock.Real())
	require.NoError(t, err)
	_, first, err := b.Create(backend.RootInodeID, "a.txt", 0644)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b2, err := sqlitechunked.New(dbPath, testChunkSize, clock.Real())
	require.NoError(t, err)
	defer b2.Close()

	_, second, err := b2.Create(backend.RootInodeID, "b.txt", 0644)
	require.NoError(t, err)
	require.Greater(t, uint64(second), uint64(first))
}
