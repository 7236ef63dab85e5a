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

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of knobs a mount run is configured with,
// decoded by viper from flags and environment variables.
type Config struct {
	Provider Provider `mapstructure:"provider"`

	MountOSX bool `mapstructure:"mount-osx"`

	ChunkSize int `mapstructure:"chunk-size"`

	Mountpoint string `mapstructure:"mountpoint"`

	DBPath string `mapstructure:"db-path"`

	FileMode Octal `mapstructure:"file-mode"`

	LogFormat string `mapstructure:"log-format"`

	LogSeverity string `mapstructure:"log-severity"`
}

// BindFlags declares every mount flag on flagSet and binds it into viper
// under the matching mapstructure key.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("provider", "p", string(ProviderMemory), "Storage backend: memory, sqlite_simple or sqlite_chunked.")
	if err = viper.BindPFlag("provider", flagSet.Lookup("provider")); err != nil {
		return err
	}

	flagSet.BoolP("mode-osx", "", false, "Enable the osx-mode filter: hide and refuse to create names beginning with \"._\".")
	if err = viper.BindPFlag("mount-osx", flagSet.Lookup("mode-osx")); err != nil {
		return err
	}

	flagSet.IntP("chunk-size", "", 4096, "Block size in bytes used by the chunked backends.")
	if err = viper.BindPFlag("chunk-size", flagSet.Lookup("chunk-size")); err != nil {
		return err
	}

	flagSet.StringP("mountpoint", "", "", "Directory at which to attach the file system. Created if absent.")
	if err = viper.BindPFlag("mountpoint", flagSet.Lookup("mountpoint")); err != nil {
		return err
	}

	flagSet.StringP("db-path", "", "", "Path to the sqlite database file for the persistent backends.")
	if err = viper.BindPFlag("db-path", flagSet.Lookup("db-path")); err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0644, "Default permission bits for regular files, in octal.")
	if err = viper.BindPFlag("file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log rendering: text or json.")
	if err = viper.BindPFlag("log-format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR or OFF.")
	if err = viper.BindPFlag("log-severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	return nil
}
