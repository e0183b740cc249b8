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

// Package state reads the current SCST configuration out of the control
// filesystem into the shared model. Attribute reads are selective: only
// values the subsystem tags as non-default are included, so the diff against
// a desired model never rewrites defaults. The walk tolerates entries
// disappearing underneath it and returns whatever was readable.
package state

import (
	"path"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/openscst/scstconf/internal/config"
	"github.com/openscst/scstconf/internal/scstfs"
)

// Attribute files that exist on most entities but are not configuration:
// management files, the enable toggle (read explicitly), and LUN device
// links.
var skipAttrs = map[string]bool{
	"mgmt":             true,
	"enabled":          true,
	"device":           true,
	scstfs.MgmtResult:  true,
	scstfs.SuspendAttr: true,
}

// Read walks the control filesystem and returns the current state.
func Read(fs scstfs.Interface) (*config.Config, error) {
	cfg := &config.Config{}

	readKeyedAttrs(fs, "", &cfg.Attrs)

	handlers, err := fs.ListDirs("handlers")
	if err != nil {
		return nil, err
	}
	for _, name := range handlers {
		cfg.Handlers = append(cfg.Handlers, readHandler(fs, name))
	}

	drivers, err := fs.ListDirs(scstfs.DriversDir())
	if err != nil {
		return nil, err
	}
	for _, name := range drivers {
		cfg.Drivers = append(cfg.Drivers, readDriver(fs, name))
	}

	if groups, err := fs.ListDirs(scstfs.DeviceGroupsDir()); err == nil {
		for _, name := range groups {
			cfg.DeviceGroups = append(cfg.DeviceGroups, readDeviceGroup(fs, name))
		}
	}

	return cfg, nil
}

// readKeyedAttrs collects the non-default attributes of a directory into the
// bag. Read failures are skipped: an entry that vanished mid-walk will be
// reconciled on the next run.
func readKeyedAttrs(fs scstfs.Interface, dir string, attrs *config.Attributes) {
	files, err := fs.ListFiles(dir)
	if err != nil {
		klog.V(3).Infof("skipping attributes of %q: %v", dir, err)
		return
	}
	for _, name := range files {
		if skipAttrs[name] {
			continue
		}
		value, keyed, err := fs.ReadKeyedAttribute(path.Join(dir, name))
		if err != nil || !keyed {
			continue
		}
		attrs.Set(name, value)
	}
}

func readHandler(fs scstfs.Interface, name string) *config.Handler {
	h := &config.Handler{Name: name}
	devices, err := fs.ListDirs(scstfs.HandlerDir(name))
	if err != nil {
		return h
	}
	for _, dev := range devices {
		d := &config.Device{Name: dev}
		readKeyedAttrs(fs, scstfs.DeviceDir(name, dev), &d.Attrs)
		h.Devices = append(h.Devices, d)
	}
	return h
}

func readDriver(fs scstfs.Interface, name string) *config.Driver {
	drv := &config.Driver{Name: name}
	readKeyedAttrs(fs, scstfs.DriverDir(name), &drv.Attrs)
	drv.Enabled = readEnabled(fs, scstfs.DriverEnabled(name))
	targets, err := fs.ListDirs(scstfs.DriverDir(name))
	if err != nil {
		return drv
	}
	for _, tgt := range targets {
		drv.Targets = append(drv.Targets, readTarget(fs, name, tgt))
	}
	return drv
}

func readTarget(fs scstfs.Interface, driver, name string) *config.Target {
	t := &config.Target{Name: name}
	readKeyedAttrs(fs, scstfs.TargetDir(driver, name), &t.Attrs)
	t.Enabled = readEnabled(fs, scstfs.TargetEnabled(driver, name))
	t.Luns = readLuns(fs, scstfs.LunsDir(driver, name))

	groups, err := fs.ListDirs(scstfs.IniGroupsDir(driver, name))
	if err != nil {
		return t
	}
	for _, g := range groups {
		ig := &config.InitGroup{Name: g}
		ig.Luns = readLuns(fs, scstfs.GroupLunsDir(driver, name, g))
		if inis, err := fs.ListFiles(scstfs.GroupInitiatorsDir(driver, name, g)); err == nil {
			for _, ini := range inis {
				if ini == "mgmt" {
					continue
				}
				ig.Initiators = append(ig.Initiators, ini)
			}
		}
		t.Groups = append(t.Groups, ig)
	}
	return t
}

// readLuns reads a LUN directory (default target set or initiator group
// set). Each numbered subdirectory holds a device link plus per-LUN
// attributes.
func readLuns(fs scstfs.Interface, lunsDir string) []*config.Lun {
	entries, err := fs.ListDirs(lunsDir)
	if err != nil {
		return nil
	}
	var luns []*config.Lun
	for _, entry := range entries {
		num, err := strconv.ParseUint(entry, 10, 64)
		if err != nil {
			continue
		}
		device, err := fs.ReadLink(path.Join(lunsDir, entry, "device"))
		if err != nil {
			klog.V(3).Infof("skipping LUN %s in %s: %v", entry, lunsDir, err)
			continue
		}
		lun := &config.Lun{Number: num, Device: device}
		readKeyedAttrs(fs, path.Join(lunsDir, entry), &lun.Attrs)
		luns = append(luns, lun)
	}
	return luns
}

func readDeviceGroup(fs scstfs.Interface, name string) *config.DeviceGroup {
	dg := &config.DeviceGroup{Name: name}
	if devices, err := fs.ListDirs(scstfs.DGDevicesDir(name)); err == nil {
		dg.Devices = devices
	}
	tgroups, err := fs.ListDirs(scstfs.DGTargetGroupsDir(name))
	if err != nil {
		return dg
	}
	for _, tgName := range tgroups {
		tg := &config.TargetGroup{Name: tgName}
		targets, err := fs.ListDirs(scstfs.TargetGroupDir(name, tgName))
		if err == nil {
			for _, tgt := range targets {
				ref := &config.TGTarget{Name: tgt}
				readKeyedAttrs(fs, scstfs.TGTargetDir(name, tgName, tgt), &ref.Attrs)
				tg.Targets = append(tg.Targets, ref)
			}
		}
		dg.TargetGroups = append(dg.TargetGroups, tg)
	}
	return dg
}

func readEnabled(fs scstfs.Interface, attrPath string) bool {
	v, err := fs.ReadAttribute(attrPath)
	return err == nil && v == "1"
}
