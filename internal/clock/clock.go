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

// Package clock re-exports the timeutil.Clock abstraction used throughout
// the backend and dispatcher packages for mtime/ctime/crtime stamping and
// for the ready-sentinel timestamp, so production code depends on a real
// wall clock and tests can depend on a frozen one.
package clock

import (
	"github.com/jacobsa/timeutil"
)

// Clock is the dependency every backend and the dispatcher take for
// "what time is it" instead of calling time.Now directly, so tests can
// supply a SimulatedClock and assert on exact timestamps.
type Clock = timeutil.Clock

// Real returns the wall clock used in production.
func Real() Clock {
	return timeutil.RealClock()
}
