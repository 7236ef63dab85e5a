// Copyright 2024 Google Inc. All Rights Reserved.
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

package statsmetrics

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type StatsMetricsSuite struct {
	suite.Suite
}

func TestStatsMetricsSuite(t *testing.T) {
	suite.Run(t, new(StatsMetricsSuite))
}

func (s *StatsMetricsSuite) TestObserveAndSnapshot() {
	r := New()
	r.Observe("ReadFile", 1*time.Millisecond)
	r.Observe("ReadFile", 3*time.Millisecond)
	r.Observe("WriteFile", 2*time.Millisecond)

	stats, err := r.Snapshot()
	s.Require().NoError(err)
	s.Require().Len(stats, 2)

	// Snapshot is sorted by op name.
	s.Equal("ReadFile", stats[0].Op)
	s.Equal(uint64(2), stats[0].Count)
	s.Equal("WriteFile", stats[1].Op)
	s.Equal(uint64(1), stats[1].Count)
}

func (s *StatsMetricsSuite) TestWriteAndReadSnapshotRoundTrip() {
	r := New()
	r.Observe("LookUpInode", 500*time.Microsecond)

	path := filepath.Join(s.T().TempDir(), "run.stats.json")
	s.Require().NoError(r.WriteSnapshot(path))

	got, err := ReadSnapshot(path)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("LookUpInode", got[0].Op)
	s.Equal(uint64(1), got[0].Count)
}

func (s *StatsMetricsSuite) TestRenderTable() {
	var buf bytes.Buffer
	err := RenderTable(&buf, []OpStats{
		{Op: "ReadFile", Count: 10, P50: 0.001, P90: 0.002, P99: 0.003},
	})
	s.Require().NoError(err)
	s.Contains(buf.String(), "ReadFile")
	s.Contains(buf.String(), "OP")
}

func (s *StatsMetricsSuite) TestEmptySnapshot() {
	r := New()
	stats, err := r.Snapshot()
	s.Require().NoError(err)
	s.Empty(stats)
}
