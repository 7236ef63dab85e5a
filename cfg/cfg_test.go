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

package cfg_test

import (
	"testing"

	"github.com/benallfree/dofs/cfg"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type CfgSuite struct {
	suite.Suite
}

func (s *CfgSuite) SetupTest() {
	viper.Reset()
}

func (s *CfgSuite) TestBindFlagsThenUnmarshalRoundTrip() {
	fs := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	s.Require().NoError(cfg.BindFlags(fs))
	s.Require().NoError(fs.Parse([]string{
		"--provider=sqlite_chunked",
		"--mode-osx",
		"--chunk-size=8192",
		"--mountpoint=/mnt/dofs",
		"--db-path=/tmp/dofs.db",
	}))

	var c cfg.Config
	s.Require().NoError(viper.Unmarshal(&c, viper.DecodeHook(cfg.DecodeHook())))

	s.Equal(cfg.Provider("sqlite_chunked"), c.Provider)
	s.True(c.MountOSX)
	s.Equal(8192, c.ChunkSize)
	s.Equal("/mnt/dofs", c.Mountpoint)
	s.Equal("/tmp/dofs.db", c.DBPath)
}

func (s *CfgSuite) TestDefaultPassesValidationOnceMountpointSet() {
	c := cfg.Default()
	c.Mountpoint = "/mnt/dofs"
	s.Require().NoError(cfg.ValidateConfig(&c))
}

func (s *CfgSuite) TestValidateConfigRejectsEmptyMountpoint() {
	c := cfg.Default()
	s.ErrorContains(cfg.ValidateConfig(&c), "mountpoint")
}

func (s *CfgSuite) TestValidateConfigRejectsUnknownProvider() {
	c := cfg.Default()
	c.Mountpoint = "/mnt/dofs"
	c.Provider = "bogus"
	s.ErrorContains(cfg.ValidateConfig(&c), "unknown provider")
}

func (s *CfgSuite) TestValidateConfigRejectsNonPositiveChunkSize() {
	c := cfg.Default()
	c.Mountpoint = "/mnt/dofs"
	c.ChunkSize = 0
	s.ErrorContains(cfg.ValidateConfig(&c), "chunk-size")
}

func (s *CfgSuite) TestValidateConfigRequiresDBPathForPersistentProviders() {
	c := cfg.Default()
	c.Mountpoint = "/mnt/dofs"
	c.Provider = cfg.ProviderSQLiteSimple
	s.ErrorContains(cfg.ValidateConfig(&c), "db-path")
}

func (s *CfgSuite) TestValidateConfigRejectsUnknownLogSeverity() {
	c := cfg.Default()
	c.Mountpoint = "/mnt/dofs"
	c.LogSeverity = "LOUD"
	s.ErrorContains(cfg.ValidateConfig(&c), "log-severity")
}

func TestCfgSuite(t *testing.T) {
	suite.Run(t, new(CfgSuite))
}

func TestOctalUnmarshalText(t *testing.T) {
	var o cfg.Octal
	require.NoError(t, o.UnmarshalText([]byte("644")))
	require.Equal(t, cfg.Octal(0644), o)

	text, err := o.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "644", string(text))
}

func TestLogSeverityRank(t *testing.T) {
	require.Less(t, cfg.TraceLogSeverity.Rank(), cfg.InfoLogSeverity.Rank())
	require.Less(t, cfg.InfoLogSeverity.Rank(), cfg.ErrorLogSeverity.Rank())
	require.Equal(t, -1, cfg.LogSeverity("BOGUS").Rank())
}

func TestDecodeHookConvertsOctalField(t *testing.T) {
	type target struct {
		Mode cfg.Octal `mapstructure:"mode"`
	}
	var out target
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: cfg.DecodeHook(),
		Result:     &out,
	})
	require.NoError(t, err)
	require.NoError(t, decoder.Decode(map[string]interface{}{"mode": "755"}))
	require.Equal(t, cfg.Octal(0755), out.Mode)
}
