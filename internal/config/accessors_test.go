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
	"k8s.io/utils/ptr"
)

func TestDeviceAccessors(t *testing.T) {
	d := device("d1", "filename", "/v/d1.img", "blocksize", "4096")
	fn, ok := d.Filename()
	require.True(t, ok)
	assert.Equal(t, "/v/d1.img", fn)
	assert.Equal(t, ptr.To(uint32(4096)), d.BlockSize())

	bare := device("d2")
	_, ok = bare.Filename()
	assert.False(t, ok)
	assert.Nil(t, bare.BlockSize())

	bad := device("d3", "blocksize", "huge")
	assert.Nil(t, bad.BlockSize())
}

func TestLunReadOnly(t *testing.T) {
	l := &Lun{Number: 0, Device: "d1"}
	assert.False(t, l.ReadOnly())
	l.Attrs.Set("read_only", "1")
	assert.True(t, l.ReadOnly())
}

func TestTGTargetAccessors(t *testing.T) {
	ref := &TGTarget{Name: "iqn.x:t1"}
	assert.Nil(t, ref.RelTgtID())
	assert.False(t, ref.Preferred())

	ref.Attrs.Set("rel_tgt_id", "17")
	ref.Attrs.Set("preferred", "1")
	assert.Equal(t, ptr.To(uint16(17)), ref.RelTgtID())
	assert.True(t, ref.Preferred())

	ref.Attrs.Set("rel_tgt_id", "0")
	assert.Nil(t, ref.RelTgtID())
	ref.Attrs.Set("rel_tgt_id", "70000")
	assert.Nil(t, ref.RelTgtID())
}

func TestValidateRejectsBadRelTgtID(t *testing.T) {
	cfg := validConfig()
	cfg.DeviceGroups[0].TargetGroups[0].Targets[0].Attrs.Set("rel_tgt_id", "bogus")
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rel_tgt_id")
}
