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

// Package cmd is the dofs command-line entry point: a cobra command tree
// rooted at `dofs`, with `mount`, `list-providers` and `stats`
// subcommands, following the structure of the teacher's own cmd/root.go.
package cmd

import (
	"fmt"
	"os"

	"github.com/benallfree/dofs/cfg"
	_ "github.com/benallfree/dofs/internal/backend/memory"
	_ "github.com/benallfree/dofs/internal/backend/sqliteblob"
	_ "github.com/benallfree/dofs/internal/backend/sqlitechunked"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	bindErr     error
	MountConfig cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "dofs",
	Short: "A pluggable-backend user-space filesystem driver",
	Long: `dofs presents a POSIX-like namespace to the kernel via FUSE and
answers every request from a pluggable storage backend: an in-memory tree, a
single-blob SQLite table, or a chunked SQLite table.`,
}

// Execute runs the root command, exiting the process with status 1 on
// error, the same way the teacher's cmd.Execute does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	bindErr = cfg.BindFlags(mountCmd.Flags())
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(listProvidersCmd)
	rootCmd.AddCommand(statsCmd)
}

func initConfig() {
	viper.AutomaticEnv()
}
