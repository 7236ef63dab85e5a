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

package stress

import (
	"os"
	"testing"

	"github.com/benallfree/dofs/internal/backend"
	_ "github.com/benallfree/dofs/internal/backend/memory"
	_ "github.com/benallfree/dofs/internal/backend/sqlitechunked"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// requireFuseDevice skips the suite on a machine with no FUSE kernel
// support; mounting is the one part of this package that needs a real
// kernel, unlike the rest of the module's tests.
func requireFuseDevice(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skipf("skipping: /dev/fuse unavailable: %v", err)
	}
}

// TestConcurrentWorkerEntrypoint is re-exec'd by ConcurrentByteInterleave as
// a worker subprocess; under a normal `go test` invocation (no marker
// environment variable set) it is a no-op.
func TestConcurrentWorkerEntrypoint(t *testing.T) {
	if !IsConcurrentWorker() {
		t.Skip("not invoked as a concurrent-interleave worker")
	}
	require.NoError(t, RunConcurrentWorker())
}

type ScenarioSuite struct {
	suite.Suite
	h *Harness
}

func (s *ScenarioSuite) SetupTest() {
	requireFuseDevice(s.T())
	b, err := backend.Registry["memory"]("", 0)
	s.Require().NoError(err)

	h, err := Mount(b, false)
	s.Require().NoError(err)
	s.h = h
}

func (s *ScenarioSuite) TearDownTest() {
	if s.h != nil {
		s.Require().NoError(s.h.TearDown())
	}
}

func TestScenarioSuite(t *testing.T) {
	suite.Run(t, new(ScenarioSuite))
}

func (s *ScenarioSuite) TestCreateWriteReadDelete() {
	s.Require().NoError(CreateWriteReadDelete(s.h, 1<<20, 0x2A))
}

func (s *ScenarioSuite) TestAppendWrite() {
	s.Require().NoError(AppendWrite(s.h, 512*1024, 0x01, 0x02))
}

func (s *ScenarioSuite) TestTruncateShrinkThenGrow() {
	s.Require().NoError(TruncateShrinkThenGrow(s.h, 1<<20, 512*1024, 0x07))
}

func (s *ScenarioSuite) TestRename() {
	s.Require().NoError(Rename(s.h))
}

func (s *ScenarioSuite) TestSymlink() {
	s.Require().NoError(Symlink(s.h))
}

func (s *ScenarioSuite) TestRmdirNotEmpty() {
	s.Require().NoError(RmdirNotEmpty(s.h))
}

type ChunkedScenarioSuite struct {
	suite.Suite
	h *Harness
}

func (s *ChunkedScenarioSuite) SetupTest() {
	requireFuseDevice(s.T())
	dbPath := s.T().TempDir() + "/stress.db"
	b, err := backend.Registry["sqlite_chunked"](dbPath, 4096)
	s.Require().NoError(err)

	h, err := Mount(b, false)
	s.Require().NoError(err)
	s.h = h
}

func (s *ChunkedScenarioSuite) TearDownTest() {
	if s.h != nil {
		s.Require().NoError(s.h.TearDown())
	}
}

func TestChunkedScenarioSuite(t *testing.T) {
	suite.Run(t, new(ChunkedScenarioSuite))
}

func (s *ChunkedScenarioSuite) TestChunkedRandomIO() {
	s.Require().NoError(ChunkedRandomIO(s.h, 100<<20, 0x37, 42, 10))
}

func (s *ChunkedScenarioSuite) TestConcurrentByteInterleave() {
	s.Require().NoError(ConcurrentByteInterleave(s.h.Path("f"), 1000))
}
