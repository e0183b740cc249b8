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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func device(name string, attrs ...string) *Device {
	d := &Device{Name: name}
	for i := 0; i+1 < len(attrs); i += 2 {
		d.Attrs.Set(attrs[i], attrs[i+1])
	}
	return d
}

func validConfig() *Config {
	cfg := &Config{
		Handlers: []*Handler{{
			Name: "vdisk_fileio",
			Devices: []*Device{
				device("d1", "filename", "/v/d1.img"),
				device("d2", "filename", "/v/d2.img"),
			},
		}},
		Drivers: []*Driver{{
			Name:    "iscsi",
			Enabled: true,
			Targets: []*Target{{
				Name:    "iqn.x:t1",
				Enabled: true,
				Luns:    []*Lun{{Number: 0, Device: "d1"}},
				Groups: []*InitGroup{{
					Name:       "clients",
					Luns:       []*Lun{{Number: 0, Device: "d2"}},
					Initiators: []string{"iqn.x:c1"},
				}},
			}},
		}},
		DeviceGroups: []*DeviceGroup{{
			Name:    "dg1",
			Devices: []string{"d1"},
			TargetGroups: []*TargetGroup{{
				Name:    "ctrl_a",
				Targets: []*TGTarget{{Name: "iqn.x:t1"}},
			}},
		}},
	}
	return cfg
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateUndeclaredLunDevice(t *testing.T) {
	cfg := validConfig()
	cfg.Drivers[0].Targets[0].Luns = append(cfg.Drivers[0].Targets[0].Luns, &Lun{Number: 1, Device: "ghost"})
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestValidateUndeclaredGroupLunDevice(t *testing.T) {
	cfg := validConfig()
	cfg.Drivers[0].Targets[0].Groups[0].Luns[0].Device = "ghost"
	require.Error(t, Validate(cfg))
}

func TestValidateDuplicateLun(t *testing.T) {
	cfg := validConfig()
	cfg.Drivers[0].Targets[0].Luns = append(cfg.Drivers[0].Targets[0].Luns, &Lun{Number: 0, Device: "d2"})
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate LUN 0")
}

func TestValidateDuplicateLunAcrossScopesOK(t *testing.T) {
	// The same LUN number in the default set and in a group is fine; scopes
	// are independent.
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateMissingCreateAttr(t *testing.T) {
	cfg := validConfig()
	cfg.Handlers[0].Devices[0].Attrs.Del("filename")
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filename")
}

func TestValidateNoCreateAttrRequiredForNullio(t *testing.T) {
	cfg := &Config{
		Handlers: []*Handler{{Name: "vdisk_nullio", Devices: []*Device{device("null0")}}},
	}
	assert.NoError(t, Validate(cfg))
}

func TestValidateDeviceInTwoGroups(t *testing.T) {
	cfg := validConfig()
	cfg.DeviceGroups = append(cfg.DeviceGroups, &DeviceGroup{Name: "dg2", Devices: []string{"d1"}})
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dg1")
	assert.Contains(t, err.Error(), "dg2")
}

func TestValidateUnknownTargetGroupReference(t *testing.T) {
	cfg := validConfig()
	cfg.DeviceGroups[0].TargetGroups[0].Targets[0].Name = "iqn.x:nope"
	require.Error(t, Validate(cfg))
}

func TestValidateUndeclaredDeviceGroupMember(t *testing.T) {
	cfg := validConfig()
	cfg.DeviceGroups[0].Devices = append(cfg.DeviceGroups[0].Devices, "ghost")
	require.Error(t, Validate(cfg))
}

func TestValidateReportsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Drivers[0].Targets[0].Luns[0].Device = "ghost1"
	cfg.DeviceGroups[0].Devices[0] = "ghost2"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost1")
	assert.Contains(t, err.Error(), "ghost2")
}
