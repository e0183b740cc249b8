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

package scstfs

import "path"

// DefaultRoot is where the SCST sysfs tree is mounted on a stock kernel.
const DefaultRoot = "/sys/kernel/scst_tgt"

// Fixed entries relative to the subsystem root.
const (
	// MgmtResult is the verification attribute: "0" after a successful
	// management write, a diagnostic line otherwise.
	MgmtResult = "last_sysfs_mgmt_res"
	// SuspendAttr is the global I/O suspension toggle.
	SuspendAttr = "suspend"
)

// The copy manager is a built-in driver/target pair that SCST auto-populates
// with one LUN per created device. It is never created or removed through the
// control filesystem.
const (
	CopyManagerDriver = "copy_manager"
	CopyManagerTarget = "copy_manager_tgt"
)

// Handler tree.

func HandlerDir(handler string) string { return path.Join("handlers", handler) }

func HandlerMgmt(handler string) string { return path.Join("handlers", handler, "mgmt") }

func DeviceDir(handler, device string) string { return path.Join("handlers", handler, device) }

func DeviceAttr(handler, device, attr string) string {
	return path.Join("handlers", handler, device, attr)
}

// Driver and target tree.

func DriversDir() string { return "targets" }

func DriverDir(driver string) string { return path.Join("targets", driver) }

func DriverMgmt(driver string) string { return path.Join("targets", driver, "mgmt") }

func DriverAttr(driver, attr string) string { return path.Join("targets", driver, attr) }

func DriverEnabled(driver string) string { return path.Join("targets", driver, "enabled") }

func TargetDir(driver, target string) string { return path.Join("targets", driver, target) }

func TargetMgmt(driver, target string) string { return path.Join("targets", driver, target, "mgmt") }

func TargetAttr(driver, target, attr string) string {
	return path.Join("targets", driver, target, attr)
}

func TargetEnabled(driver, target string) string {
	return path.Join("targets", driver, target, "enabled")
}

// LUN tree.

func LunsDir(driver, target string) string { return path.Join("targets", driver, target, "luns") }

func LunsMgmt(driver, target string) string {
	return path.Join("targets", driver, target, "luns", "mgmt")
}

func LunDir(driver, target string, lun string) string {
	return path.Join("targets", driver, target, "luns", lun)
}

func LunDevice(driver, target string, lun string) string {
	return path.Join("targets", driver, target, "luns", lun, "device")
}

// Initiator-group tree.

func IniGroupsDir(driver, target string) string {
	return path.Join("targets", driver, target, "ini_groups")
}

func IniGroupDir(driver, target, group string) string {
	return path.Join("targets", driver, target, "ini_groups", group)
}

func GroupLunsDir(driver, target, group string) string {
	return path.Join("targets", driver, target, "ini_groups", group, "luns")
}

func GroupLunsMgmt(driver, target, group string) string {
	return path.Join("targets", driver, target, "ini_groups", group, "luns", "mgmt")
}

func GroupLunDevice(driver, target, group, lun string) string {
	return path.Join("targets", driver, target, "ini_groups", group, "luns", lun, "device")
}

func GroupInitiatorsDir(driver, target, group string) string {
	return path.Join("targets", driver, target, "ini_groups", group, "initiators")
}

func GroupInitiatorsMgmt(driver, target, group string) string {
	return path.Join("targets", driver, target, "ini_groups", group, "initiators", "mgmt")
}

// Device-group (ALUA) tree.

func DeviceGroupsDir() string { return "device_groups" }

func DeviceGroupsMgmt() string { return path.Join("device_groups", "mgmt") }

func DeviceGroupDir(group string) string { return path.Join("device_groups", group) }

func DGDevicesDir(group string) string { return path.Join("device_groups", group, "devices") }

func DGDevicesMgmt(group string) string { return path.Join("device_groups", group, "devices", "mgmt") }

func DGTargetGroupsDir(group string) string {
	return path.Join("device_groups", group, "target_groups")
}

func DGTargetGroupsMgmt(group string) string {
	return path.Join("device_groups", group, "target_groups", "mgmt")
}

func TargetGroupDir(group, tgroup string) string {
	return path.Join("device_groups", group, "target_groups", tgroup)
}

func TargetGroupMgmt(group, tgroup string) string {
	return path.Join("device_groups", group, "target_groups", tgroup, "mgmt")
}

func TGTargetDir(group, tgroup, target string) string {
	return path.Join("device_groups", group, "target_groups", tgroup, target)
}

func TGTargetAttr(group, tgroup, target, attr string) string {
	return path.Join("device_groups", group, "target_groups", tgroup, target, attr)
}
