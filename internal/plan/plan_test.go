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

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscst/scstconf/internal/config"
)

func parse(t *testing.T, text string) *config.Config {
	t.Helper()
	cfg, err := config.Parse("test.conf", []byte(text))
	require.NoError(t, err)
	return cfg
}

const baseConfig = `
HANDLER vdisk_fileio {
	DEVICE d1 { filename /v/d1.img }
	DEVICE d2 { filename /v/d2.img }
}
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 {
		LUN 0 d1
		enabled 1
	}
	enabled 1
}
`

func TestDiffIdenticalModelsIsEmpty(t *testing.T) {
	desired := parse(t, baseConfig)
	current := parse(t, baseConfig)
	p := Diff(desired, current)
	assert.True(t, p.Empty(), "plan: %v", p.Actions())
}

func TestDiffIsDeterministic(t *testing.T) {
	desired := parse(t, baseConfig)
	current := parse(t, `HANDLER vdisk_fileio { DEVICE d9 { filename /v/d9.img } }`)
	first := Diff(desired, current)
	second := Diff(desired, current)
	assert.Equal(t, first.Actions(), second.Actions())
}

func TestDiffFromEmptyCurrent(t *testing.T) {
	desired := parse(t, baseConfig)
	p := Diff(desired, &config.Config{})

	require.Len(t, p.DeviceAdds, 2)
	assert.Equal(t, "d1", p.DeviceAdds[0].Device.Name)
	require.Len(t, p.TargetAdds, 1)
	require.Len(t, p.TargetLunAdds, 1)
	assert.Equal(t, []TargetRef{{Driver: "iscsi", Target: "iqn.x:t1"}}, p.TargetEnables)
	assert.Equal(t, []string{"iscsi"}, p.DriverEnables)
	assert.Empty(t, p.DeviceRemovals)
}

func TestDiffEmptyDesiredIsFullTeardown(t *testing.T) {
	current := parse(t, baseConfig)
	p := Diff(&config.Config{}, current)

	assert.Equal(t, []string{"iscsi"}, p.DriverDisables)
	assert.Equal(t, []TargetRef{{Driver: "iscsi", Target: "iqn.x:t1"}}, p.TargetRemovals)
	// Devices are removed in reverse declaration order.
	assert.Equal(t, []DeviceRef{
		{Handler: "vdisk_fileio", Device: "d2"},
		{Handler: "vdisk_fileio", Device: "d1"},
	}, p.DeviceRemovals)
	assert.Empty(t, p.DeviceAdds)
	assert.Empty(t, p.TargetEnables)
	// Nothing keeps a copy-manager LUN when nothing is desired.
	assert.Empty(t, p.CopyManagerKeep)
}

func TestDiffLunNumberSwap(t *testing.T) {
	// Same LUN number, different device: one remove plus one add, never an
	// in-place update.
	current := parse(t, baseConfig)
	desired := parse(t, `
HANDLER vdisk_fileio {
	DEVICE d1 { filename /v/d1.img }
	DEVICE d2 { filename /v/d2.img }
}
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 {
		LUN 0 d2
		enabled 1
	}
	enabled 1
}
`)
	p := Diff(desired, current)
	assert.Equal(t, []LunRemove{{Scope: LunScope{Driver: "iscsi", Target: "iqn.x:t1"}, Number: 0}}, p.TargetLunRemovals)
	require.Len(t, p.TargetLunAdds, 1)
	assert.Equal(t, "d2", p.TargetLunAdds[0].Lun.Device)
	assert.Empty(t, p.TargetLunReplaces)
}

func TestDiffLunAttributeChangeIsReplace(t *testing.T) {
	current := parse(t, baseConfig)
	desired := parse(t, `
HANDLER vdisk_fileio {
	DEVICE d1 { filename /v/d1.img }
	DEVICE d2 { filename /v/d2.img }
}
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 {
		LUN 0 d1 read_only=1
		enabled 1
	}
	enabled 1
}
`)
	p := Diff(desired, current)
	assert.Empty(t, p.TargetLunRemovals)
	assert.Empty(t, p.TargetLunAdds)
	require.Len(t, p.TargetLunReplaces, 1)
	ro, _ := p.TargetLunReplaces[0].Lun.Attrs.Get("read_only")
	assert.Equal(t, "1", ro)
}

func TestDiffDeviceHandlerChange(t *testing.T) {
	// Moving a device to another handler is remove + add, and every LUN
	// referencing it is reassigned around the recreation.
	current := parse(t, baseConfig)
	desired := parse(t, `
HANDLER vdisk_fileio {
	DEVICE d2 { filename /v/d2.img }
}
HANDLER vdisk_blockio {
	DEVICE d1 { filename /dev/vg0/d1 }
}
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 {
		LUN 0 d1
		enabled 1
	}
	enabled 1
}
`)
	p := Diff(desired, current)
	assert.Equal(t, []DeviceRef{{Handler: "vdisk_fileio", Device: "d1"}}, p.DeviceRemovals)
	require.Len(t, p.DeviceAdds, 1)
	assert.Equal(t, "vdisk_blockio", p.DeviceAdds[0].Handler)
	// The unchanged LUN 0 -> d1 binding is still reassigned.
	require.Len(t, p.TargetLunRemovals, 1)
	require.Len(t, p.TargetLunAdds, 1)
	assert.Equal(t, "d1", p.TargetLunAdds[0].Lun.Device)
}

func TestDiffCreateAttrChangeRecreatesDevice(t *testing.T) {
	current := parse(t, baseConfig)
	desired := parse(t, `
HANDLER vdisk_fileio {
	DEVICE d1 { filename /v/d1-new.img }
	DEVICE d2 { filename /v/d2.img }
}
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 {
		LUN 0 d1
		enabled 1
	}
	enabled 1
}
`)
	p := Diff(desired, current)
	assert.Equal(t, []DeviceRef{{Handler: "vdisk_fileio", Device: "d1"}}, p.DeviceRemovals)
	require.Len(t, p.DeviceAdds, 1)
	assert.Empty(t, p.DeviceUpdates)
}

func TestDiffDeviceAttributeUpdate(t *testing.T) {
	current := parse(t, baseConfig)
	desired := parse(t, `
HANDLER vdisk_fileio {
	DEVICE d1 { filename /v/d1.img
	            blocksize 4096 }
	DEVICE d2 { filename /v/d2.img }
}
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 {
		LUN 0 d1
		enabled 1
	}
	enabled 1
}
`)
	p := Diff(desired, current)
	assert.Empty(t, p.DeviceRemovals)
	assert.Empty(t, p.DeviceAdds)
	require.Len(t, p.DeviceUpdates, 1)
	assert.Equal(t, []AttrChange{{Name: "blocksize", Value: "4096"}}, p.DeviceUpdates[0].Set)
}

func TestDiffEnabledHeldAsideFromAttrs(t *testing.T) {
	// The eventual enabled state is recorded separately, never as an
	// attribute update.
	current := parse(t, `
HANDLER vdisk_fileio { DEVICE d1 { filename /v/d1.img } }
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 { LUN 0 d1 }
}
`)
	desired := parse(t, `
HANDLER vdisk_fileio { DEVICE d1 { filename /v/d1.img } }
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 { LUN 0 d1
	                  enabled 1 }
	enabled 1
}
`)
	p := Diff(desired, current)
	assert.Empty(t, p.TargetUpdates)
	assert.Empty(t, p.DriverUpdates)
	assert.Equal(t, []TargetRef{{Driver: "iscsi", Target: "iqn.x:t1"}}, p.TargetEnables)
	assert.Equal(t, []string{"iscsi"}, p.DriverEnables)
}

func TestDiffDisablesBeforeRemoval(t *testing.T) {
	current := parse(t, baseConfig)
	desired := parse(t, `
HANDLER vdisk_fileio {
	DEVICE d1 { filename /v/d1.img }
	DEVICE d2 { filename /v/d2.img }
}
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 {
		LUN 0 d1
	}
}
`)
	p := Diff(desired, current)
	assert.Equal(t, []string{"iscsi"}, p.DriverDisables)
	assert.Equal(t, []TargetRef{{Driver: "iscsi", Target: "iqn.x:t1"}}, p.TargetDisables)
	assert.Empty(t, p.TargetEnables)
}

func TestDiffCopyManagerNeverRemoved(t *testing.T) {
	current := parse(t, baseConfig)
	cm := &config.Driver{Name: "copy_manager", Targets: []*config.Target{{
		Name: "copy_manager_tgt",
		Luns: []*config.Lun{{Number: 0, Device: "d1"}, {Number: 1, Device: "d2"}},
	}}}
	current.Drivers = append(current.Drivers, cm)

	p := Diff(&config.Config{}, current)
	for _, ref := range p.TargetRemovals {
		assert.NotEqual(t, "copy_manager", ref.Driver)
	}
	assert.NotContains(t, p.DriverDisables, "copy_manager")
}

func TestDiffCopyManagerKeepExplicit(t *testing.T) {
	desired := parse(t, `
HANDLER vdisk_fileio {
	DEVICE d1 { filename /v/d1.img }
	DEVICE d2 { filename /v/d2.img }
}
TARGET_DRIVER copy_manager {
	TARGET copy_manager_tgt {
		LUN 0 d1
	}
}
`)
	p := Diff(desired, &config.Config{})
	assert.Equal(t, map[string]bool{"d1": true}, p.CopyManagerKeep)
}

func TestDiffCopyManagerKeepImplicit(t *testing.T) {
	desired := parse(t, baseConfig)
	p := Diff(desired, &config.Config{})
	assert.Equal(t, map[string]bool{"d1": true, "d2": true}, p.CopyManagerKeep)
}

func TestDiffInitiatorAndGroupChanges(t *testing.T) {
	current := parse(t, `
HANDLER vdisk_fileio { DEVICE d1 { filename /v/d1.img } }
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 {
		GROUP old {
			LUN 0 d1
			INITIATOR iqn.x:gone
			INITIATOR iqn.x:stays
		}
	}
}
`)
	desired := parse(t, `
HANDLER vdisk_fileio { DEVICE d1 { filename /v/d1.img } }
TARGET_DRIVER iscsi {
	TARGET iqn.x:t1 {
		GROUP old {
			LUN 0 d1
			INITIATOR iqn.x:stays
			INITIATOR iqn.x:new
		}
		GROUP fresh {
			LUN 0 d1
			INITIATOR iqn.x:other
		}
	}
}
`)
	p := Diff(desired, current)
	assert.Equal(t, []InitiatorRef{{Driver: "iscsi", Target: "iqn.x:t1", Group: "old", Name: "iqn.x:gone"}}, p.InitiatorRemovals)
	require.Len(t, p.GroupAdds, 1)
	assert.Equal(t, "fresh", p.GroupAdds[0].Group.Name)
	assert.Equal(t, []InitiatorRef{
		{Driver: "iscsi", Target: "iqn.x:t1", Group: "old", Name: "iqn.x:new"},
		{Driver: "iscsi", Target: "iqn.x:t1", Group: "fresh", Name: "iqn.x:other"},
	}, p.InitiatorAdds)
	require.Len(t, p.GroupLunAdds, 1)
	assert.Equal(t, "fresh", p.GroupLunAdds[0].Scope.Group)
}

func TestDiffDeviceGroups(t *testing.T) {
	current := parse(t, `
HANDLER vdisk_fileio {
	DEVICE d1 { filename /v/d1.img }
	DEVICE d2 { filename /v/d2.img }
}
TARGET_DRIVER iscsi { TARGET iqn.x:t1 { LUN 0 d1 } }
DEVICE_GROUP dg1 {
	DEVICE d1
	DEVICE d2
	TARGET_GROUP ctrl_a {
		TARGET iqn.x:t1 { rel_tgt_id 1 }
	}
}
DEVICE_GROUP dg_gone {
	DEVICE d1
}
`)
	desired := parse(t, `
HANDLER vdisk_fileio {
	DEVICE d1 { filename /v/d1.img }
	DEVICE d2 { filename /v/d2.img }
}
TARGET_DRIVER iscsi { TARGET iqn.x:t1 { LUN 0 d1 } }
DEVICE_GROUP dg1 {
	DEVICE d1
	TARGET_GROUP ctrl_a {
		TARGET iqn.x:t1 { rel_tgt_id 2 }
	}
	TARGET_GROUP ctrl_b {
		TARGET iqn.x:t1 { rel_tgt_id 3 }
	}
}
`)
	p := Diff(desired, current)
	assert.Equal(t, []string{"dg_gone"}, p.DeviceGroupRemovals)
	assert.Equal(t, []DGDeviceRef{{Group: "dg1", Device: "d2"}}, p.DGDeviceRemovals)
	assert.Equal(t, []TGRef{{Group: "dg1", TGroup: "ctrl_b"}}, p.TargetGroupCreates)
	assert.Equal(t, []TGTargetRef{{Group: "dg1", TGroup: "ctrl_b", Target: "iqn.x:t1"}}, p.TGTargetAdds)
	require.Len(t, p.TGTargetUpdates, 2)
	assert.Equal(t, []AttrChange{{Name: "rel_tgt_id", Value: "2"}}, p.TGTargetUpdates[0].Set)
}

func TestPlanEmpty(t *testing.T) {
	p := &Plan{}
	assert.True(t, p.Empty())
	p.DriverEnables = []string{"iscsi"}
	assert.False(t, p.Empty())
}
