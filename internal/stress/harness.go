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

// Package stress drives a live kernel mount through ordinary file I/O
// syscalls and measures per-operation latency, implementing the end-to-end
// scenarios and concurrent-access property of the spec's testable
// properties section. It mounts a real backend.Backend through
// internal/dispatch via jacobsa/fuse, the same way the teacher's sample
// test fixtures do.
package stress

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/benallfree/dofs/internal/backend"
	"github.com/benallfree/dofs/internal/clock"
	"github.com/benallfree/dofs/internal/dispatch"
	"github.com/benallfree/dofs/internal/statsmetrics"
	"github.com/google/uuid"
	"github.com/jacobsa/fuse"
)

// Harness mounts a backend at a fresh temporary directory and tears it down
// cleanly, mirroring jacobsa-fuse's samples.SampleTest fixture but built
// around backend.Backend instead of a hand-rolled fuseutil.FileSystem.
type Harness struct {
	Dir     string
	Metrics *statsmetrics.Recorder

	mfs *fuse.MountedFileSystem
}

// Mount mounts b at a fresh temporary directory named with a uuid suffix so
// repeated or concurrent harness runs never collide.
func Mount(b backend.Backend, osxMode bool) (*Harness, error) {
	dir, err := os.MkdirTemp("", "dofs-stress-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("stress: MkdirTemp: %w", err)
	}

	metrics := statsmetrics.New()
	fs := dispatch.New(b, clock.Real(), osxMode, metrics)

	mfs, err := fuse.Mount(dir, fs, &fuse.MountConfig{
		FSName:      "dofs",
		Subtype:     "dofsstress",
		VolumeName:  "dofsstress",
		ErrorLogger: log.New(os.Stderr, "fuse: ", 0),
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("stress: Mount: %w", err)
	}

	if err := mfs.WaitForReady(context.Background()); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("stress: WaitForReady: %w", err)
	}

	return &Harness{Dir: dir, Metrics: metrics, mfs: mfs}, nil
}

// TearDown unmounts the file system (retrying on transient "resource busy")
// and removes the mount directory.
func (h *Harness) TearDown() error {
	if h.mfs == nil {
		return nil
	}

	delay := 10 * time.Millisecond
	var err error
	for {
		err = h.mfs.Unmount()
		if err == nil {
			break
		}
		if strings.Contains(err.Error(), "resource busy") {
			time.Sleep(delay)
			delay = time.Duration(1.3 * float64(delay))
			continue
		}
		return fmt.Errorf("stress: Unmount: %w", err)
	}

	if err := h.mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("stress: Join: %w", err)
	}

	os.RemoveAll(h.Dir)
	return nil
}

// Path joins name onto the mount directory.
func (h *Harness) Path(name string) string {
	return h.Dir + string(os.PathSeparator) + name
}
