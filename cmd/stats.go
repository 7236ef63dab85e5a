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

import (
	"fmt"

	"github.com/benallfree/dofs/cfg"
	"github.com/benallfree/dofs/internal/statsmetrics"
	"github.com/spf13/cobra"
)

var (
	statsSnapshotFlag   string
	statsDBPathFlag     string
	statsMountpointFlag string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-operation latency percentiles from the last mount run",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := statsSnapshotFlag
		if path == "" {
			path = statsSnapshotPath(&cfg.Config{DBPath: statsDBPathFlag, Mountpoint: statsMountpointFlag})
		}

		snapshot, err := statsmetrics.ReadSnapshot(path)
		if err != nil {
			return fmt.Errorf("reading stats snapshot %s: %w", path, err)
		}
		return statsmetrics.RenderTable(cmd.OutOrStdout(), snapshot)
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsSnapshotFlag, "snapshot", "", "Path to a stats snapshot file, overriding the db-path/mountpoint-derived default.")
	statsCmd.Flags().StringVar(&statsDBPathFlag, "db-path", "", "db-path of the mount run to report on.")
	statsCmd.Flags().StringVar(&statsMountpointFlag, "mountpoint", "", "mountpoint of the mount run to report on, used when db-path is empty (memory backend).")
}
