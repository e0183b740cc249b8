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
	"strconv"

	"k8s.io/utils/ptr"
)

// Typed accessors for well-known attributes. The bags stay string-to-string
// at the boundary, since the kernel side accepts arbitrary attributes; these
// helpers give the common ones a typed view. Nil means unset or unparsable;
// Validate rejects the unparsable case for attributes it knows.

// Filename returns the backing file or block device path of a vdisk device.
func (d *Device) Filename() (string, bool) {
	return d.Attrs.Get("filename")
}

// BlockSize returns the device block size in bytes, or nil when unset or not
// a number.
func (d *Device) BlockSize() *uint32 {
	v, ok := d.Attrs.Get("blocksize")
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return nil
	}
	return ptr.To(uint32(n))
}

// ReadOnly reports whether the LUN assignment is marked read-only.
func (l *Lun) ReadOnly() bool {
	v, _ := l.Attrs.Get("read_only")
	return v == "1"
}

// RelTgtID returns the ALUA relative target port identifier, or nil when
// unset or out of its 1-65535 range.
func (t *TGTarget) RelTgtID() *uint16 {
	v, ok := t.Attrs.Get("rel_tgt_id")
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil || n == 0 {
		return nil
	}
	return ptr.To(uint16(n))
}

// Preferred reports whether the target group member is the preferred ALUA
// path.
func (t *TGTarget) Preferred() bool {
	v, _ := t.Attrs.Get("preferred")
	return v == "1"
}
