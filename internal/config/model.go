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

// Package config defines the typed description of an SCST configuration —
// handlers, devices, target drivers, targets, LUN assignments, initiator
// groups and ALUA device groups — together with the parser that produces it
// from the block-structured text format and the validation of its structural
// invariants. The same model describes both the desired state (from a config
// file) and the current state (from the state reader), so the two can be
// diffed symmetrically.
package config

// Attributes is an ordered string-to-string attribute bag. SCST attributes
// are free-form on the kernel side; insertion order is preserved so that
// writes derived from a parsed file happen in the order the file declares
// them.
type Attributes struct {
	keys []string
	vals map[string]string
}

// Set adds or replaces an attribute. Replacing keeps the original position.
func (a *Attributes) Set(name, value string) {
	if a.vals == nil {
		a.vals = make(map[string]string)
	}
	if _, ok := a.vals[name]; !ok {
		a.keys = append(a.keys, name)
	}
	a.vals[name] = value
}

// Get returns the value of an attribute and whether it is present.
func (a *Attributes) Get(name string) (string, bool) {
	v, ok := a.vals[name]
	return v, ok
}

// Del removes an attribute if present.
func (a *Attributes) Del(name string) {
	if _, ok := a.vals[name]; !ok {
		return
	}
	delete(a.vals, name)
	for i, k := range a.keys {
		if k == name {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the attribute names in insertion order. The returned slice is
// shared with the bag and must not be modified.
func (a *Attributes) Keys() []string {
	return a.keys
}

// Len returns the number of attributes.
func (a *Attributes) Len() int {
	return len(a.keys)
}

// Clone returns an independent copy of the bag.
func (a *Attributes) Clone() Attributes {
	var c Attributes
	for _, k := range a.keys {
		c.Set(k, a.vals[k])
	}
	return c
}

// Config is the root of the model: the full desired or current state of the
// SCST subsystem.
type Config struct {
	// Attrs holds global attributes on the subsystem root.
	Attrs Attributes
	// Handlers in declaration order.
	Handlers []*Handler
	// Drivers in declaration order.
	Drivers []*Driver
	// DeviceGroups in declaration order.
	DeviceGroups []*DeviceGroup
}

// Handler is a kernel-side device-type backend (vdisk_fileio, vdisk_blockio,
// dev_disk, ...) hosting zero or more devices.
type Handler struct {
	Name    string
	Devices []*Device
}

// Device is a single storage object belonging to exactly one handler.
type Device struct {
	Name  string
	Attrs Attributes
}

// Driver is a transport-layer target driver (iscsi, qla2x00t, ...).
type Driver struct {
	Name    string
	Enabled bool
	Attrs   Attributes
	Targets []*Target
}

// Target is a transport endpoint inside a driver. Its Luns form the default
// LUN set seen by initiators not matched by any initiator group.
type Target struct {
	Name    string
	Enabled bool
	Attrs   Attributes
	Luns    []*Lun
	Groups  []*InitGroup
}

// InitGroup is a named initiator group inside a target, with its own LUN set
// and the initiator names it matches.
type InitGroup struct {
	Name       string
	Luns       []*Lun
	Initiators []string
}

// Lun binds a device into a target or initiator group at a LUN number.
type Lun struct {
	Number uint64
	Device string
	Attrs  Attributes
}

// DeviceGroup is an ALUA device group: the devices it owns plus its target
// groups.
type DeviceGroup struct {
	Name         string
	Devices      []string
	TargetGroups []*TargetGroup
}

// TargetGroup is an ALUA target group inside a device group.
type TargetGroup struct {
	Name    string
	Targets []*TGTarget
}

// TGTarget is a target reference inside a target group, with per-target
// attributes such as rel_tgt_id and preferred.
type TGTarget struct {
	Name  string
	Attrs Attributes
}

// Handler returns the named handler, or nil.
func (c *Config) Handler(name string) *Handler {
	for _, h := range c.Handlers {
		if h.Name == name {
			return h
		}
	}
	return nil
}

// Driver returns the named driver, or nil.
func (c *Config) Driver(name string) *Driver {
	for _, d := range c.Drivers {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// DeviceGroup returns the named device group, or nil.
func (c *Config) DeviceGroup(name string) *DeviceGroup {
	for _, g := range c.DeviceGroups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// DeviceHandler returns the handler declaring the named device, or nil.
func (c *Config) DeviceHandler(device string) *Handler {
	for _, h := range c.Handlers {
		for _, d := range h.Devices {
			if d.Name == device {
				return h
			}
		}
	}
	return nil
}

// DeviceNames returns every declared device name in declaration order.
func (c *Config) DeviceNames() []string {
	var names []string
	for _, h := range c.Handlers {
		for _, d := range h.Devices {
			names = append(names, d.Name)
		}
	}
	return names
}

// Target returns the named target of a driver, or nil.
func (d *Driver) Target(name string) *Target {
	for _, t := range d.Targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Group returns the named initiator group, or nil.
func (t *Target) Group(name string) *InitGroup {
	for _, g := range t.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Device returns the named device of a handler, or nil.
func (h *Handler) Device(name string) *Device {
	for _, d := range h.Devices {
		if d.Name == name {
			return d
		}
	}
	return nil
}
