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

package sqliteblob_test

import (
	"path/filepath"
	"testing"

	"github.com/benallfree/dofs/internal/backend"
	"github.com/benallfree/dofs/internal/backend/backendtest"
	"github.com/benallfree/dofs/internal/backend/sqliteblob"
	"github.com/benallfree/dofs/internal/clock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestSQLiteBlobBackendContract(t *testing.T) {
	suite.Run(t, &backendtest.BackendContractSuite{
		New: func(t *testing.T) backend.Backend {
			dbPath := filepath.Join(t.TempDir(), "fs.db")
			b, err := sqliteblob.New(dbPath, clock.Real())
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		},
		OverwritesRenameDestination: true,
	})
}

func TestSQLiteBlobResumesAllocationAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fs.db")

	b, err := sqliteblob.New(dbPath, clock.Real())
	require.NoError(t, err)
	_, first, err := b.Create(backend.RootInodeID, "a.txt", 0644)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b2, err := sqliteblob.New(dbPath, clock.Real())
	require.NoError(t, err)
	defer b2.Close()

	_, second, err := b2.Create(backend.RootInodeID, "b.txt", 0644)
	require.NoError(t, err)
	require.Greater(t, uint64(second), uint64(first))

	_, gotInode, err := b2.Lookup(backend.RootInodeID, "a.txt")
	require.NoError(t, err)
	require.Equal(t, first, gotInode)
}
