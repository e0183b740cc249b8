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

package engine

// Attribute write classification. Most attributes are always writable; the
// ones below are rejected by the kernel side unless the enclosing entity is
// in the required enable state. The engine inserts disable/re-enable cycles
// for the first class and defers the second class until after the driver is
// enabled.

// targetRequiresDisabled lists per driver the target attributes that may
// only be written while the target is disabled.
var targetRequiresDisabled = map[string]map[string]bool{
	"iscsi": {
		"allowed_portal": true,
		"IncomingUser":   true,
		"OutgoingUser":   true,
	},
}

// driverRequiresDisabled lists per driver the driver-level attributes that
// may only be written while the driver is disabled.
var driverRequiresDisabled = map[string]map[string]bool{
	"iscsi": {
		"internal_portal": true,
	},
}

// driverRequiresEnabled lists per driver the driver-level attributes that
// the kernel side only accepts once the driver is enabled.
var driverRequiresEnabled = map[string]map[string]bool{
	"iscsi": {
		"iSNSServer": true,
	},
}

func targetAttrRequiresDisabled(driver, attr string) bool {
	return targetRequiresDisabled[driver][attr]
}

func driverAttrRequiresDisabled(driver, attr string) bool {
	return driverRequiresDisabled[driver][attr]
}

func driverAttrRequiresEnabled(driver, attr string) bool {
	return driverRequiresEnabled[driver][attr]
}
