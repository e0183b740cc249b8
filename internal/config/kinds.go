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

// handlerCreateAttrs maps a handler name to the attribute that must be passed
// on the add_device management command for devices of that handler. Handlers
// absent from the table (pass-through kinds discovered by hardware scan, or
// vdisk_nullio which needs no backing store) create devices from the name
// alone.
var handlerCreateAttrs = map[string]string{
	"vdisk_fileio":  "filename",
	"vdisk_blockio": "filename",
	"dev_disk":      "t10_dev_id",
	"dev_disk_perf": "t10_dev_id",
}

// CreateAttr returns the attribute required on device creation for the given
// handler, and whether the handler requires one.
func CreateAttr(handler string) (string, bool) {
	attr, ok := handlerCreateAttrs[handler]
	return attr, ok
}
