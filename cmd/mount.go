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
	"context"
	"fmt"
	"os"

	"github.com/benallfree/dofs/cfg"
	"github.com/benallfree/dofs/internal/backend"
	"github.com/benallfree/dofs/internal/clock"
	"github.com/benallfree/dofs/internal/dispatch"
	"github.com/benallfree/dofs/internal/logger"
	"github.com/benallfree/dofs/internal/perms"
	"github.com/benallfree/dofs/internal/statsmetrics"
	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the file system at --mountpoint using the selected backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if err := viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook())); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
		if err := cfg.ValidateConfig(&MountConfig); err != nil {
			return err
		}
		return runMount(cmd.Context(), &MountConfig)
	},
}

// runMount builds the selected backend, wraps it in the dispatcher, and
// serves the mount until it is unmounted (by the external unmount utility
// or a SIGINT the host library's signal handling forwards), writing a
// stats snapshot on clean shutdown. Signal handling itself is an external
// collaborator per spec §1; fuse.Mount/MountedFileSystem.Join already block
// the way the teacher's own mountWithStorageHandle does.
func runMount(ctx context.Context, c *cfg.Config) error {
	logger.Init(*c)

	factory, ok := backend.Registry[string(c.Provider)]
	if !ok {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	b, err := factory(c.DBPath, c.ChunkSize)
	if err != nil {
		return fmt.Errorf("constructing %q backend: %w", c.Provider, err)
	}

	if err := os.MkdirAll(c.Mountpoint, 0755); err != nil {
		return fmt.Errorf("creating mountpoint: %w", err)
	}

	if uid, _, err := perms.MyUserAndGroup(); err == nil && uid == 0 {
		logger.Warnf("dofs invoked as root; all files will be owned by root")
	}

	metrics := statsmetrics.New()
	fs := dispatch.New(b, clock.Real(), c.MountOSX, metrics)

	name := fsName(c)
	logger.Infof("mounting %q at %s using provider %q", name, c.Mountpoint, c.Provider)

	mountCfg := &fuse.MountConfig{
		FSName:     name,
		Subtype:    "dofs",
		VolumeName: name,
		Options:    map[string]string{"auto_unmount": ""},
	}

	mfs, err := fuse.Mount(c.Mountpoint, fs, mountCfg)
	if err != nil {
		return fmt.Errorf("fuse.Mount: %w", err)
	}

	if err := mfs.WaitForReady(ctx); err != nil {
		return fmt.Errorf("WaitForReady: %w", err)
	}
	logger.Infof("file system ready at %s", c.Mountpoint)

	joinErr := mfs.Join(ctx)

	if err := metrics.WriteSnapshot(statsSnapshotPath(c)); err != nil {
		logger.Warnf("writing stats snapshot: %v", err)
	}

	if joinErr != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", joinErr)
	}
	return nil
}
