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

import "fmt"

var validProviders = map[Provider]bool{
	ProviderMemory:        true,
	ProviderSQLiteSimple:  true,
	ProviderSQLiteChunked: true,
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if !validProviders[config.Provider] {
		return fmt.Errorf("unknown provider %q: must be one of memory, sqlite_simple, sqlite_chunked", config.Provider)
	}

	if config.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be positive, got %d", config.ChunkSize)
	}

	if config.Provider != ProviderMemory && config.DBPath == "" {
		return fmt.Errorf("db-path is required for provider %q", config.Provider)
	}

	if config.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required")
	}

	if LogSeverity(config.LogSeverity).Rank() < 0 {
		return fmt.Errorf("invalid log-severity %q", config.LogSeverity)
	}

	return nil
}
