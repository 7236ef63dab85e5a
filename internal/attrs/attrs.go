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

// Package attrs holds the per-node attribute record shared by every backend
// and its codec: a self-describing byte sequence that survives a process
// restart, used by the persistent backends to store attributes alongside
// content.
package attrs

import (
	"bytes"
	"encoding/gob"
	"os"
	"time"
)

// Kind enumerates the node kinds core operations can produce. Other kinds
// (block/char device, pipe, socket) are representable here but never
// created by create/mkdir/symlink.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	KindBlockDevice
	KindCharDevice
	KindPipe
	KindSocket
)

// Record is the attribute record every backend attaches to a node.
type Record struct {
	Size      uint64
	Blocks    uint64
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Crtime    time.Time
	Kind      Kind
	Mode      os.FileMode
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint32
	Flags     uint32
	BlockSize uint32
}

// maxFutureDrift is the largest seconds-since-epoch skew a decoded timestamp
// may have relative to the wall clock before it is considered pathological.
const maxFutureDrift = 100 * 365 * 24 * time.Hour

// Clamp normalizes a decoded timestamp per the codec's time-safety rule:
// anything more than 100 years ahead of now collapses to now; anything
// before the epoch collapses to the epoch.
func Clamp(t time.Time, now time.Time) time.Time {
	if t.Before(time.Unix(0, 0)) {
		return time.Unix(0, 0)
	}
	if t.After(now.Add(maxFutureDrift)) {
		return now
	}
	return t
}

// ClampAll applies Clamp to every timestamp field of r, returning the
// normalized record. Called by every backend immediately after Decode.
func (r Record) ClampAll(now time.Time) Record {
	r.Atime = Clamp(r.Atime, now)
	r.Mtime = Clamp(r.Mtime, now)
	r.Ctime = Clamp(r.Ctime, now)
	r.Crtime = Clamp(r.Crtime, now)
	return r
}

// Encode serializes r to a self-describing byte sequence stable across
// process restarts.
func Encode(r Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes data produced by Encode. Callers must clamp the
// result with ClampAll before trusting its timestamps.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return Record{}, err
	}
	return r, nil
}
