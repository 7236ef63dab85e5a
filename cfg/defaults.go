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

package cfg

// DefaultChunkSize is the chunk size Default() returns, matching the flag's
// own default declared in BindFlags. ValidateConfig rejects a zero chunk size
// rather than replacing it.
const DefaultChunkSize = 4096

// Default returns the configuration used when no flags are supplied at all,
// e.g. by tests that construct backends directly.
func Default() Config {
	return Config{
		Provider:    ProviderMemory,
		ChunkSize:   DefaultChunkSize,
		FileMode:    0644,
		LogFormat:   "text",
		LogSeverity: string(InfoLogSeverity),
	}
}
