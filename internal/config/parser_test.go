/*
 * Copyright The scstconf Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOK(t *testing.T, text string) *Config {
	t.Helper()
	cfg, err := Parse("test.conf", []byte(text))
	require.NoError(t, err)
	return cfg
}

func parseErr(t *testing.T, text string) *ParseError {
	t.Helper()
	_, err := Parse("test.conf", []byte(text))
	require.Error(t, err)
	var perr *ParseError
	require.True(t, errors.As(err, &perr), "expected *ParseError, got %T: %v", err, err)
	return perr
}

func TestParseFullConfig(t *testing.T) {
	cfg := parseOK(t, `
setup_id 0x1234

HANDLER vdisk_fileio {
	DEVICE disk01 {
		filename /var/lib/disk01.img
		blocksize 512
		nv_cache 1
	}
	DEVICE disk02 {
		filename /var/lib/disk02.img
	}
}

TARGET_DRIVER iscsi {
	IncomingUser "joe secretpass"
	TARGET iqn.2018-01.com.example:tgt1 {
		LUN 0 disk01
		LUN 1 disk02 read_only=1
		GROUP clients {
			LUN 0 disk02
			INITIATOR iqn.2018-01.com.example:client1
			INITIATOR iqn.2018-01.com.example:client2
		}
		enabled 1
	}
	enabled 1
}

DEVICE_GROUP dg1 {
	DEVICE disk01
	TARGET_GROUP controller_A {
		TARGET iqn.2018-01.com.example:tgt1 {
			rel_tgt_id 1
			preferred 1
		}
	}
}
`)

	v, ok := cfg.Attrs.Get("setup_id")
	require.True(t, ok)
	assert.Equal(t, "0x1234", v)

	require.Len(t, cfg.Handlers, 1)
	h := cfg.Handlers[0]
	assert.Equal(t, "vdisk_fileio", h.Name)
	require.Len(t, h.Devices, 2)
	fn, _ := h.Devices[0].Attrs.Get("filename")
	assert.Equal(t, "/var/lib/disk01.img", fn)
	bs, _ := h.Devices[0].Attrs.Get("blocksize")
	assert.Equal(t, "512", bs)

	require.Len(t, cfg.Drivers, 1)
	drv := cfg.Drivers[0]
	assert.True(t, drv.Enabled)
	user, _ := drv.Attrs.Get("IncomingUser")
	assert.Equal(t, "joe secretpass", user)

	require.Len(t, drv.Targets, 1)
	tgt := drv.Targets[0]
	assert.True(t, tgt.Enabled)
	require.Len(t, tgt.Luns, 2)
	assert.Equal(t, uint64(0), tgt.Luns[0].Number)
	assert.Equal(t, "disk01", tgt.Luns[0].Device)
	ro, ok := tgt.Luns[1].Attrs.Get("read_only")
	require.True(t, ok)
	assert.Equal(t, "1", ro)

	require.Len(t, tgt.Groups, 1)
	g := tgt.Groups[0]
	assert.Equal(t, "clients", g.Name)
	assert.Len(t, g.Luns, 1)
	assert.Equal(t, []string{
		"iqn.2018-01.com.example:client1",
		"iqn.2018-01.com.example:client2",
	}, g.Initiators)

	require.Len(t, cfg.DeviceGroups, 1)
	dg := cfg.DeviceGroups[0]
	assert.Equal(t, []string{"disk01"}, dg.Devices)
	require.Len(t, dg.TargetGroups, 1)
	require.Len(t, dg.TargetGroups[0].Targets, 1)
	rel, _ := dg.TargetGroups[0].Targets[0].Attrs.Get("rel_tgt_id")
	assert.Equal(t, "1", rel)
}

func TestParseInlineBraces(t *testing.T) {
	cfg := parseOK(t, `HANDLER vdisk_fileio { DEVICE d1 { filename /v/d1.img } }
TARGET_DRIVER iscsi {
  TARGET iqn.x:t1 { LUN 0 d1
                    enabled 1 }
  enabled 1
}
`)
	require.Len(t, cfg.Handlers, 1)
	require.Len(t, cfg.Handlers[0].Devices, 1)
	fn, _ := cfg.Handlers[0].Devices[0].Attrs.Get("filename")
	assert.Equal(t, "/v/d1.img", fn)

	require.Len(t, cfg.Drivers, 1)
	require.Len(t, cfg.Drivers[0].Targets, 1)
	tgt := cfg.Drivers[0].Targets[0]
	assert.Equal(t, "iqn.x:t1", tgt.Name)
	require.Len(t, tgt.Luns, 1)
	assert.True(t, tgt.Enabled)
	assert.True(t, cfg.Drivers[0].Enabled)
}

func TestParseComments(t *testing.T) {
	cfg := parseOK(t, `
# leading comment
setup_id 7 # trailing comment
HANDLER vdisk_fileio { # comment after brace
	DEVICE d1 {
		# comment line
		filename /tmp/x
	}
}
`)
	v, _ := cfg.Attrs.Get("setup_id")
	assert.Equal(t, "7", v)
	fn, _ := cfg.Handlers[0].Devices[0].Attrs.Get("filename")
	assert.Equal(t, "/tmp/x", fn)
}

func TestParseQuoting(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "plain value", line: "prod_id disk", want: "disk"},
		{name: "value with spaces", line: "prod_id my virtual disk", want: "my virtual disk"},
		{name: "quoted value", line: `prod_id "my disk"`, want: "my disk"},
		{name: "hash inside quotes is literal", line: `prod_id "a # b"`, want: "a # b"},
		{name: "only one quote pair stripped", line: `prod_id ""quoted""`, want: `"quoted"`},
		{name: "lone leading quote kept", line: `prod_id "half`, want: `"half`},
		{name: "empty quoted value", line: `prod_id ""`, want: ""},
		{name: "braces inside quotes", line: `prod_id "a { b }"`, want: "a { b }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := parseOK(t, tt.line+"\n")
			v, ok := cfg.Attrs.Get("prod_id")
			require.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestParseDuplicateAttributeOverrides(t *testing.T) {
	cfg := parseOK(t, "setup_id 1\nsetup_id 2\n")
	v, _ := cfg.Attrs.Get("setup_id")
	assert.Equal(t, "2", v)
	assert.Equal(t, 1, cfg.Attrs.Len())
}

func TestParseErrors(t *testing.T) {
	tests := map[string]struct {
		text     string
		wantLine int
	}{
		"stray closing brace": {
			text:     "setup_id 1\n}\n",
			wantLine: 2,
		},
		"unclosed handler cites opener": {
			text:     "setup_id 1\nHANDLER vdisk_fileio {\n\tDEVICE d1\n",
			wantLine: 2,
		},
		"unclosed inner block cites inner opener": {
			text:     "HANDLER vdisk_fileio {\n\tDEVICE d1 {\n\t\tfilename /x\n",
			wantLine: 2,
		},
		"unknown block kind": {
			text:     "WIDGET foo {\n}\n",
			wantLine: 1,
		},
		"duplicate handler": {
			text:     "HANDLER h1 {\n}\nHANDLER h1 {\n}\n",
			wantLine: 3,
		},
		"duplicate device": {
			text:     "HANDLER h1 {\n\tDEVICE d1\n\tDEVICE d1\n}\n",
			wantLine: 3,
		},
		"duplicate LUN number": {
			text:     "TARGET_DRIVER iscsi {\n\tTARGET t {\n\t\tLUN 0 d1\n\t\tLUN 0 d2\n\t}\n}\n",
			wantLine: 4,
		},
		"bad LUN number": {
			text:     "TARGET_DRIVER iscsi {\n\tTARGET t {\n\t\tLUN x d1\n\t}\n}\n",
			wantLine: 3,
		},
		"LUN missing device": {
			text:     "TARGET_DRIVER iscsi {\n\tTARGET t {\n\t\tLUN 3\n\t}\n}\n",
			wantLine: 3,
		},
		"bad LUN attribute": {
			text:     "TARGET_DRIVER iscsi {\n\tTARGET t {\n\t\tLUN 0 d1 read_only\n\t}\n}\n",
			wantLine: 3,
		},
		"handler without name": {
			text:     "HANDLER {\n}\n",
			wantLine: 1,
		},
		"bad enabled value": {
			text:     "TARGET_DRIVER iscsi {\n\tenabled yes\n}\n",
			wantLine: 2,
		},
		"attribute in GROUP": {
			text:     "TARGET_DRIVER iscsi {\n\tTARGET t {\n\t\tGROUP g {\n\t\t\tfoo bar\n\t\t}\n\t}\n}\n",
			wantLine: 4,
		},
		"block header with two names": {
			text:     "HANDLER a b {\n}\n",
			wantLine: 1,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			perr := parseErr(t, tt.text)
			assert.Equal(t, tt.wantLine, perr.Line, "error: %v", perr)
			assert.Equal(t, "test.conf", perr.File)
		})
	}
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"{",
		"}",
		"{}",
		"\"",
		"HANDLER",
		"HANDLER h",
		"HANDLER h {",
		"a\x00b c",
		"LUN 0 d1",
		"# only a comment",
		"\n\n\n",
	}
	for _, in := range inputs {
		_, err := Parse("fuzz.conf", []byte(in))
		if err != nil {
			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.GreaterOrEqual(t, perr.Line, 1)
		}
	}
}

func TestParseBareDeviceAndTarget(t *testing.T) {
	cfg := parseOK(t, `
HANDLER dev_disk {
	DEVICE 1:0:0:0
}
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1
}
`)
	require.Len(t, cfg.Handlers[0].Devices, 1)
	assert.Equal(t, "1:0:0:0", cfg.Handlers[0].Devices[0].Name)
	assert.Zero(t, cfg.Handlers[0].Devices[0].Attrs.Len())
	require.Len(t, cfg.Drivers[0].Targets, 1)
	assert.False(t, cfg.Drivers[0].Targets[0].Enabled)
}

func TestParseLunZero(t *testing.T) {
	cfg := parseOK(t, "TARGET_DRIVER iscsi {\n\tTARGET t {\n\t\tLUN 0 d0\n\t\tLUN 255 d1\n\t}\n}\n")
	luns := cfg.Drivers[0].Targets[0].Luns
	require.Len(t, luns, 2)
	assert.Equal(t, uint64(0), luns[0].Number)
	assert.Equal(t, uint64(255), luns[1].Number)
}
