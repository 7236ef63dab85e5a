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
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// concurrentWorkerEnv names the environment variable a re-exec'd worker
// process looks for to learn which of the eight tids it is and which file
// to hit; its presence is how IsConcurrentWorker distinguishes a worker
// invocation from an ordinary test run of the same binary.
const (
	concurrentWorkerEnv       = "DOFS_STRESS_WORKER_TID"
	concurrentWorkerPathEnv   = "DOFS_STRESS_WORKER_PATH"
	concurrentWorkerItersEnv  = "DOFS_STRESS_WORKER_ITERS"
	concurrentFileSize        = 4096
	concurrentBytesPerWorker  = 512
	defaultConcurrentIters    = 1000
	concurrentWorkerCount     = 8
)

// ConcurrentByteInterleave runs scenario 6: pre-size path to 4096 zero
// bytes, then spawn eight worker processes (this same test binary, re-exec'd
// with a marker environment variable) that each perform iterations
// single-byte writes of tid XOR i at offset (tid*512 + i) mod 4096.
// Coordination uses errgroup: every worker is joined before returning, and
// the first worker failure is the one reported.
func ConcurrentByteInterleave(path string, iterations int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("presize: %w", err)
	}
	if err := f.Truncate(concurrentFileSize); err != nil {
		f.Close()
		return fmt.Errorf("presize truncate: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("presize close: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("os.Executable: %w", err)
	}

	var eg errgroup.Group
	for tid := 0; tid < concurrentWorkerCount; tid++ {
		tid := tid
		eg.Go(func() error {
			cmd := exec.CommandContext(context.Background(), exe, "-test.run=TestConcurrentWorkerEntrypoint")
			cmd.Env = append(os.Environ(),
				concurrentWorkerEnv+"="+strconv.Itoa(tid),
				concurrentWorkerPathEnv+"="+path,
				concurrentWorkerItersEnv+"="+strconv.Itoa(iterations),
			)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("worker tid=%d: %w", tid, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// RunConcurrentWorker performs one worker's share of ConcurrentByteInterleave
// directly in-process, reading its tid/path/iteration count from the
// environment variables ConcurrentByteInterleave sets on the re-exec'd
// command line. Call this from a TestMain or a dedicated test entrypoint
// guarded by IsConcurrentWorker.
func RunConcurrentWorker() error {
	tid, err := strconv.Atoi(os.Getenv(concurrentWorkerEnv))
	if err != nil {
		return fmt.Errorf("parse tid: %w", err)
	}
	path := os.Getenv(concurrentWorkerPathEnv)
	iterations, err := strconv.Atoi(os.Getenv(concurrentWorkerItersEnv))
	if err != nil {
		return fmt.Errorf("parse iterations: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	for i := 0; i < iterations; i++ {
		value := byte(tid ^ i)
		offset := int64((tid*concurrentBytesPerWorker + i) % concurrentFileSize)
		if _, err := f.WriteAt([]byte{value}, offset); err != nil {
			return fmt.Errorf("write at %d: %w", offset, err)
		}
	}
	return nil
}

// IsConcurrentWorker reports whether this process invocation is a re-exec'd
// worker rather than the top-level test run.
func IsConcurrentWorker() bool {
	_, ok := os.LookupEnv(concurrentWorkerEnv)
	return ok
}

// DefaultConcurrentIterations is the per-worker iteration count scenario 6
// specifies.
const DefaultConcurrentIterations = defaultConcurrentIters
