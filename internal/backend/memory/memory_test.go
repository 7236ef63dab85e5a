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

package memory_test

import (
	"testing"

	"github.com/benallfree/dofs/internal/backend"
	"github.com/benallfree/dofs/internal/backend/backendtest"
	"github.com/benallfree/dofs/internal/backend/memory"
	"github.com/benallfree/dofs/internal/clock"
	"github.com/stretchr/testify/suite"
)

func TestMemoryBackendContract(t *testing.T) {
	suite.Run(t, &backendtest.BackendContractSuite{
		New: func(t *testing.T) backend.Backend {
			return memory.New(clock.Real())
		},
		OverwritesRenameDestination: false,
	})
}
