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

package cmd

import "github.com/benallfree/dofs/cfg"

// fsName is the mount name advertised to the host library: "<provider>fs",
// e.g. "memoryfs" or "sqlite_chunkedfs".
func fsName(c *cfg.Config) string {
	return string(c.Provider) + "fs"
}

// statsSnapshotPath is the on-disk location runMount writes the latency
// snapshot to once the mount has been joined, and that `dofs stats` reads
// from.
// For the memory backend, which has no db-path, it falls back to a file
// alongside the mountpoint.
func statsSnapshotPath(c *cfg.Config) string {
	base := c.DBPath
	if base == "" {
		base = c.Mountpoint
	}
	return base + ".stats.json"
}
