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

package attrs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type AttrsTest struct {
	suite.Suite
}

func TestAttrsSuite(t *testing.T) {
	suite.Run(t, new(AttrsTest))
}

func (t *AttrsTest) TestEncodeDecodeRoundTrip() {
	now := time.Date(2026, time.July, 29, 12, 0, 0, 0, time.UTC)
	r := Record{
		Size:   4096,
		Kind:   KindFile,
		Mode:   0644,
		Nlink:  1,
		Uid:    501,
		Gid:    20,
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
	}

	data, err := Encode(r)
	t.Require().NoError(err)

	decoded, err := Decode(data)
	t.Require().NoError(err)

	assert.Equal(t.T(), r.Size, decoded.Size)
	assert.Equal(t.T(), r.Kind, decoded.Kind)
	assert.Equal(t.T(), r.Mode, decoded.Mode)
	assert.True(t.T(), r.Mtime.Equal(decoded.Mtime))
}

func (t *AttrsTest) TestClampFutureTimestampCollapsesToNow() {
	now := time.Date(2026, time.July, 29, 12, 0, 0, 0, time.UTC)
	farFuture := now.Add(200 * 365 * 24 * time.Hour)

	got := Clamp(farFuture, now)

	assert.True(t.T(), got.Equal(now))
}

func (t *AttrsTest) TestClampNearFutureTimestampUnchanged() {
	now := time.Date(2026, time.July, 29, 12, 0, 0, 0, time.UTC)
	nearFuture := now.Add(24 * time.Hour)

	got := Clamp(nearFuture, now)

	assert.True(t.T(), got.Equal(nearFuture))
}

func (t *AttrsTest) TestClampPreEpochCollapsesToEpoch() {
	now := time.Date(2026, time.July, 29, 12, 0, 0, 0, time.UTC)
	preEpoch := time.Unix(-1000, 0)

	got := Clamp(preEpoch, now)

	assert.True(t.T(), got.Equal(time.Unix(0, 0)))
}

func (t *AttrsTest) TestClampAllNormalizesEveryTimestamp() {
	now := time.Date(2026, time.July, 29, 12, 0, 0, 0, time.UTC)
	r := Record{
		Atime:  time.Unix(-5, 0),
		Mtime:  now.Add(200 * 365 * 24 * time.Hour),
		Ctime:  now,
		Crtime: now,
	}

	got := r.ClampAll(now)

	assert.True(t.T(), got.Atime.Equal(time.Unix(0, 0)))
	assert.True(t.T(), got.Mtime.Equal(now))
	assert.True(t.T(), got.Ctime.Equal(now))
}
