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

// Package plan computes the difference between a desired and a current model
// as per-subsystem change sets. Diffing is pure: the same pair of models
// always yields the same plan, additions follow the desired model's
// declaration order, and removals follow the current model's order reversed.
// The convergence engine decides when each set is applied.
package plan

import (
	"github.com/openscst/scstconf/internal/config"
	"github.com/openscst/scstconf/internal/scstfs"
)

// AttrChange is a single attribute write.
type AttrChange struct {
	Name  string
	Value string
}

// DeviceRef names a device under its handler.
type DeviceRef struct {
	Handler string
	Device  string
}

// DeviceAdd creates a device with its full desired attribute set.
type DeviceAdd struct {
	Handler string
	Device  *config.Device
}

// DeviceUpdate rewrites changed attributes of an existing device.
type DeviceUpdate struct {
	Handler string
	Device  string
	Set     []AttrChange
}

// TargetRef names a target under its driver.
type TargetRef struct {
	Driver string
	Target string
}

// TargetAdd creates a target; its LUNs and groups are planned separately.
type TargetAdd struct {
	Driver string
	Target *config.Target
}

// TargetUpdate rewrites changed attributes of an existing target.
type TargetUpdate struct {
	Driver string
	Target string
	Set    []AttrChange
}

// DriverUpdate rewrites changed attributes of a driver.
type DriverUpdate struct {
	Driver string
	Set    []AttrChange
}

// GroupRef names an initiator group.
type GroupRef struct {
	Driver string
	Target string
	Group  string
}

// GroupAdd creates an initiator group; LUNs are planned separately.
type GroupAdd struct {
	Driver string
	Target string
	Group  *config.InitGroup
}

// InitiatorRef names one initiator entry of a group.
type InitiatorRef struct {
	Driver string
	Target string
	Group  string
	Name   string
}

// LunScope identifies a LUN set: a target's default set when Group is empty,
// an initiator group's set otherwise.
type LunScope struct {
	Driver string
	Target string
	Group  string
}

// LunRemove deletes one LUN number from a scope.
type LunRemove struct {
	Scope  LunScope
	Number uint64
}

// LunAdd assigns a device at a free LUN number.
type LunAdd struct {
	Scope LunScope
	Lun   *config.Lun
}

// LunReplace reassigns an occupied LUN number, used when only the
// assignment's attributes changed.
type LunReplace struct {
	Scope LunScope
	Lun   *config.Lun
}

// DGDeviceRef names a device membership in a device group.
type DGDeviceRef struct {
	Group  string
	Device string
}

// TGRef names a target group inside a device group.
type TGRef struct {
	Group  string
	TGroup string
}

// TGTargetRef names a target reference inside a target group.
type TGTargetRef struct {
	Group  string
	TGroup string
	Target string
}

// TGTargetUpdate rewrites changed attributes of a target-group member.
type TGTargetUpdate struct {
	Group  string
	TGroup string
	Target string
	Set    []AttrChange
}

// Plan is the full set of changes needed to converge current onto desired.
// Lists are already ordered for the engine: additions in desired declaration
// order, removals in reverse current order.
type Plan struct {
	GlobalAttrs []AttrChange

	// Removals, applied in the conflict phase.
	DriverDisables      []string
	TargetDisables      []TargetRef
	TGTargetRemovals    []TGTargetRef
	TargetGroupRemovals []TGRef
	DGDeviceRemovals    []DGDeviceRef
	DeviceGroupRemovals []string
	GroupLunRemovals    []LunRemove
	TargetLunRemovals   []LunRemove
	InitiatorRemovals   []InitiatorRef
	GroupRemovals       []GroupRef
	TargetRemovals      []TargetRef
	DeviceRemovals      []DeviceRef

	// Device additions and updates.
	DeviceAdds    []DeviceAdd
	DeviceUpdates []DeviceUpdate

	// Driver/target skeleton.
	TargetAdds    []TargetAdd
	GroupAdds     []GroupAdd
	InitiatorAdds []InitiatorRef
	TargetUpdates []TargetUpdate
	DriverUpdates []DriverUpdate

	// LUN assignments.
	TargetLunAdds     []LunAdd
	TargetLunReplaces []LunReplace
	GroupLunAdds      []LunAdd
	GroupLunReplaces  []LunReplace

	// Device groups.
	DeviceGroupCreates []string
	DGDeviceAdds       []DGDeviceRef
	TargetGroupCreates []TGRef
	TGTargetAdds       []TGTargetRef
	TGTargetUpdates    []TGTargetUpdate

	// Eventual enabled state, applied in the final phases. Only entities
	// whose live state actually has to change are listed.
	TargetEnables []TargetRef
	DriverEnables []string

	// CopyManagerKeep is the set of device names whose auto-generated
	// copy-manager LUNs survive pruning.
	CopyManagerKeep map[string]bool
}

// Empty reports whether the plan contains no changes.
func (p *Plan) Empty() bool {
	return len(p.GlobalAttrs) == 0 &&
		len(p.DriverDisables) == 0 && len(p.TargetDisables) == 0 &&
		len(p.TGTargetRemovals) == 0 && len(p.TargetGroupRemovals) == 0 &&
		len(p.DGDeviceRemovals) == 0 && len(p.DeviceGroupRemovals) == 0 &&
		len(p.GroupLunRemovals) == 0 && len(p.TargetLunRemovals) == 0 &&
		len(p.InitiatorRemovals) == 0 && len(p.GroupRemovals) == 0 &&
		len(p.TargetRemovals) == 0 && len(p.DeviceRemovals) == 0 &&
		len(p.DeviceAdds) == 0 && len(p.DeviceUpdates) == 0 &&
		len(p.TargetAdds) == 0 && len(p.GroupAdds) == 0 &&
		len(p.InitiatorAdds) == 0 && len(p.TargetUpdates) == 0 &&
		len(p.DriverUpdates) == 0 &&
		len(p.TargetLunAdds) == 0 && len(p.TargetLunReplaces) == 0 &&
		len(p.GroupLunAdds) == 0 && len(p.GroupLunReplaces) == 0 &&
		len(p.DeviceGroupCreates) == 0 && len(p.DGDeviceAdds) == 0 &&
		len(p.TargetGroupCreates) == 0 && len(p.TGTargetAdds) == 0 &&
		len(p.TGTargetUpdates) == 0 &&
		len(p.TargetEnables) == 0 && len(p.DriverEnables) == 0
}

// Diff computes the plan converging current onto desired.
func Diff(desired, current *config.Config) *Plan {
	p := &Plan{}

	p.GlobalAttrs = attrDelta(&desired.Attrs, &current.Attrs)

	removedDevices := p.diffDevices(desired, current)
	p.diffDrivers(desired, current, removedDevices)
	p.diffDeviceGroups(desired, current)
	p.CopyManagerKeep = copyManagerKeep(desired)

	return p
}

// attrDelta returns the attributes of desired whose value differs from
// current. Attributes present only in current are left alone: the subsystem
// owns their defaults.
func attrDelta(desired, current *config.Attributes) []AttrChange {
	var changes []AttrChange
	for _, k := range desired.Keys() {
		dv, _ := desired.Get(k)
		if cv, ok := current.Get(k); !ok || cv != dv {
			changes = append(changes, AttrChange{Name: k, Value: dv})
		}
	}
	return changes
}

// diffDevices plans device removals, additions and updates. A device whose
// handler changed, or whose creation attribute changed, is recreated. The
// returned set names every device that will be removed (including ones that
// are re-added), so LUN diffing can force reassignments that reference them.
func (p *Plan) diffDevices(desired, current *config.Config) map[string]bool {
	removed := make(map[string]bool)

	// Removals in reverse current order.
	for hi := len(current.Handlers) - 1; hi >= 0; hi-- {
		h := current.Handlers[hi]
		for di := len(h.Devices) - 1; di >= 0; di-- {
			dev := h.Devices[di]
			want := desired.DeviceHandler(dev.Name)
			if want != nil && want.Name == h.Name && !needsRecreate(want, dev) {
				continue
			}
			p.DeviceRemovals = append(p.DeviceRemovals, DeviceRef{Handler: h.Name, Device: dev.Name})
			removed[dev.Name] = true
		}
	}

	for _, h := range desired.Handlers {
		cur := current.Handler(h.Name)
		for _, dev := range h.Devices {
			var curDev *config.Device
			if cur != nil {
				curDev = cur.Device(dev.Name)
			}
			if curDev == nil || removed[dev.Name] {
				p.DeviceAdds = append(p.DeviceAdds, DeviceAdd{Handler: h.Name, Device: dev})
				continue
			}
			set := attrDelta(&dev.Attrs, &curDev.Attrs)
			if len(set) > 0 {
				p.DeviceUpdates = append(p.DeviceUpdates, DeviceUpdate{Handler: h.Name, Device: dev.Name, Set: set})
			}
		}
	}
	return removed
}

// needsRecreate reports whether the desired device cannot be reached by
// attribute writes alone: its creation attribute differs from the live one.
func needsRecreate(h *config.Handler, cur *config.Device) bool {
	want := h.Device(cur.Name)
	attr, ok := config.CreateAttr(h.Name)
	if !ok || want == nil {
		return false
	}
	dv, _ := want.Attrs.Get(attr)
	cv, ok := cur.Attrs.Get(attr)
	return ok && cv != dv
}

func (p *Plan) diffDrivers(desired, current *config.Config, removedDevices map[string]bool) {
	// Current-only entities, reverse order. The copy manager is built-in:
	// its driver and target are never touched here.
	for di := len(current.Drivers) - 1; di >= 0; di-- {
		drv := current.Drivers[di]
		if drv.Name == scstfs.CopyManagerDriver {
			continue
		}
		want := desired.Driver(drv.Name)
		if want == nil {
			if drv.Enabled {
				p.DriverDisables = append(p.DriverDisables, drv.Name)
			}
			for ti := len(drv.Targets) - 1; ti >= 0; ti-- {
				p.TargetRemovals = append(p.TargetRemovals, TargetRef{Driver: drv.Name, Target: drv.Targets[ti].Name})
			}
			continue
		}
		if drv.Enabled && !want.Enabled {
			p.DriverDisables = append(p.DriverDisables, drv.Name)
		}
		for ti := len(drv.Targets) - 1; ti >= 0; ti-- {
			t := drv.Targets[ti]
			wantT := want.Target(t.Name)
			if wantT == nil {
				p.TargetRemovals = append(p.TargetRemovals, TargetRef{Driver: drv.Name, Target: t.Name})
				continue
			}
			if t.Enabled && !wantT.Enabled {
				p.TargetDisables = append(p.TargetDisables, TargetRef{Driver: drv.Name, Target: t.Name})
			}
			p.diffTargetContents(drv.Name, wantT, t, removedDevices)
		}
	}

	// Desired-side additions and updates.
	for _, drv := range desired.Drivers {
		if drv.Name == scstfs.CopyManagerDriver {
			continue
		}
		cur := current.Driver(drv.Name)
		if set := attrDelta(&drv.Attrs, currentDriverAttrs(cur)); len(set) > 0 {
			p.DriverUpdates = append(p.DriverUpdates, DriverUpdate{Driver: drv.Name, Set: set})
		}
		for _, t := range drv.Targets {
			var curT *config.Target
			if cur != nil {
				curT = cur.Target(t.Name)
			}
			if curT == nil {
				p.addTarget(drv.Name, t)
				continue
			}
			if set := attrDelta(&t.Attrs, &curT.Attrs); len(set) > 0 {
				p.TargetUpdates = append(p.TargetUpdates, TargetUpdate{Driver: drv.Name, Target: t.Name, Set: set})
			}
			if t.Enabled && !curT.Enabled {
				p.TargetEnables = append(p.TargetEnables, TargetRef{Driver: drv.Name, Target: t.Name})
			}
		}
		if drv.Enabled && (cur == nil || !cur.Enabled) {
			p.DriverEnables = append(p.DriverEnables, drv.Name)
		}
	}
}

func currentDriverAttrs(cur *config.Driver) *config.Attributes {
	if cur == nil {
		return &config.Attributes{}
	}
	return &cur.Attrs
}

// addTarget plans a brand-new target with all its groups and LUNs.
func (p *Plan) addTarget(driver string, t *config.Target) {
	p.TargetAdds = append(p.TargetAdds, TargetAdd{Driver: driver, Target: t})
	if t.Attrs.Len() > 0 {
		var set []AttrChange
		for _, k := range t.Attrs.Keys() {
			v, _ := t.Attrs.Get(k)
			set = append(set, AttrChange{Name: k, Value: v})
		}
		p.TargetUpdates = append(p.TargetUpdates, TargetUpdate{Driver: driver, Target: t.Name, Set: set})
	}
	scope := LunScope{Driver: driver, Target: t.Name}
	for _, l := range t.Luns {
		p.TargetLunAdds = append(p.TargetLunAdds, LunAdd{Scope: scope, Lun: l})
	}
	for _, g := range t.Groups {
		p.addGroup(driver, t.Name, g)
	}
	if t.Enabled {
		p.TargetEnables = append(p.TargetEnables, TargetRef{Driver: driver, Target: t.Name})
	}
}

func (p *Plan) addGroup(driver, target string, g *config.InitGroup) {
	p.GroupAdds = append(p.GroupAdds, GroupAdd{Driver: driver, Target: target, Group: g})
	for _, ini := range g.Initiators {
		p.InitiatorAdds = append(p.InitiatorAdds, InitiatorRef{Driver: driver, Target: target, Group: g.Name, Name: ini})
	}
	scope := LunScope{Driver: driver, Target: target, Group: g.Name}
	for _, l := range g.Luns {
		p.GroupLunAdds = append(p.GroupLunAdds, LunAdd{Scope: scope, Lun: l})
	}
}

// diffTargetContents plans the LUN, group and initiator deltas of a target
// present on both sides.
func (p *Plan) diffTargetContents(driver string, want, cur *config.Target, removedDevices map[string]bool) {
	scope := LunScope{Driver: driver, Target: cur.Name}
	p.diffLuns(scope, want.Luns, cur.Luns, removedDevices, false)

	for gi := len(cur.Groups) - 1; gi >= 0; gi-- {
		g := cur.Groups[gi]
		wantG := want.Group(g.Name)
		if wantG == nil {
			p.GroupRemovals = append(p.GroupRemovals, GroupRef{Driver: driver, Target: cur.Name, Group: g.Name})
			continue
		}
		gScope := LunScope{Driver: driver, Target: cur.Name, Group: g.Name}
		p.diffLuns(gScope, wantG.Luns, g.Luns, removedDevices, true)
		for ii := len(g.Initiators) - 1; ii >= 0; ii-- {
			if !containsString(wantG.Initiators, g.Initiators[ii]) {
				p.InitiatorRemovals = append(p.InitiatorRemovals, InitiatorRef{Driver: driver, Target: cur.Name, Group: g.Name, Name: g.Initiators[ii]})
			}
		}
		for _, ini := range wantG.Initiators {
			if !containsString(g.Initiators, ini) {
				p.InitiatorAdds = append(p.InitiatorAdds, InitiatorRef{Driver: driver, Target: cur.Name, Group: g.Name, Name: ini})
			}
		}
	}
	for _, g := range want.Groups {
		if cur.Group(g.Name) == nil {
			p.addGroup(driver, cur.Name, g)
		}
	}
}

// diffLuns compares two LUN sets by LUN number. A number bound to a different
// device is one removal plus one addition; the same binding with changed
// attributes is a replace. A current binding whose device is being removed
// this run is forced through remove/add even when the desired binding is
// identical.
func (p *Plan) diffLuns(scope LunScope, want, cur []*config.Lun, removedDevices map[string]bool, group bool) {
	curByNum := make(map[uint64]*config.Lun, len(cur))
	for _, l := range cur {
		curByNum[l.Number] = l
	}
	wantByNum := make(map[uint64]*config.Lun, len(want))
	for _, l := range want {
		wantByNum[l.Number] = l
	}

	for li := len(cur) - 1; li >= 0; li-- {
		l := cur[li]
		w := wantByNum[l.Number]
		if w != nil && w.Device == l.Device && !removedDevices[l.Device] {
			continue
		}
		rm := LunRemove{Scope: scope, Number: l.Number}
		if group {
			p.GroupLunRemovals = append(p.GroupLunRemovals, rm)
		} else {
			p.TargetLunRemovals = append(p.TargetLunRemovals, rm)
		}
	}

	for _, l := range want {
		c := curByNum[l.Number]
		if c == nil || c.Device != l.Device || removedDevices[l.Device] {
			add := LunAdd{Scope: scope, Lun: l}
			if group {
				p.GroupLunAdds = append(p.GroupLunAdds, add)
			} else {
				p.TargetLunAdds = append(p.TargetLunAdds, add)
			}
			continue
		}
		if len(attrDelta(&l.Attrs, &c.Attrs)) > 0 {
			repl := LunReplace{Scope: scope, Lun: l}
			if group {
				p.GroupLunReplaces = append(p.GroupLunReplaces, repl)
			} else {
				p.TargetLunReplaces = append(p.TargetLunReplaces, repl)
			}
		}
	}
}

func (p *Plan) diffDeviceGroups(desired, current *config.Config) {
	for gi := len(current.DeviceGroups) - 1; gi >= 0; gi-- {
		dg := current.DeviceGroups[gi]
		want := desired.DeviceGroup(dg.Name)
		if want == nil {
			p.DeviceGroupRemovals = append(p.DeviceGroupRemovals, dg.Name)
			continue
		}
		for di := len(dg.Devices) - 1; di >= 0; di-- {
			if !containsString(want.Devices, dg.Devices[di]) {
				p.DGDeviceRemovals = append(p.DGDeviceRemovals, DGDeviceRef{Group: dg.Name, Device: dg.Devices[di]})
			}
		}
		for ti := len(dg.TargetGroups) - 1; ti >= 0; ti-- {
			tg := dg.TargetGroups[ti]
			wantTG := findTargetGroup(want, tg.Name)
			if wantTG == nil {
				p.TargetGroupRemovals = append(p.TargetGroupRemovals, TGRef{Group: dg.Name, TGroup: tg.Name})
				continue
			}
			for ri := len(tg.Targets) - 1; ri >= 0; ri-- {
				if findTGTarget(wantTG, tg.Targets[ri].Name) == nil {
					p.TGTargetRemovals = append(p.TGTargetRemovals, TGTargetRef{Group: dg.Name, TGroup: tg.Name, Target: tg.Targets[ri].Name})
				}
			}
		}
	}

	for _, dg := range desired.DeviceGroups {
		cur := current.DeviceGroup(dg.Name)
		if cur == nil {
			p.DeviceGroupCreates = append(p.DeviceGroupCreates, dg.Name)
		}
		for _, dev := range dg.Devices {
			if cur == nil || !containsString(cur.Devices, dev) {
				p.DGDeviceAdds = append(p.DGDeviceAdds, DGDeviceRef{Group: dg.Name, Device: dev})
			}
		}
		for _, tg := range dg.TargetGroups {
			var curTG *config.TargetGroup
			if cur != nil {
				curTG = findTargetGroup(cur, tg.Name)
			}
			if curTG == nil {
				p.TargetGroupCreates = append(p.TargetGroupCreates, TGRef{Group: dg.Name, TGroup: tg.Name})
			}
			for _, ref := range tg.Targets {
				var curRef *config.TGTarget
				if curTG != nil {
					curRef = findTGTarget(curTG, ref.Name)
				}
				if curRef == nil {
					p.TGTargetAdds = append(p.TGTargetAdds, TGTargetRef{Group: dg.Name, TGroup: tg.Name, Target: ref.Name})
				}
				base := &config.Attributes{}
				if curRef != nil {
					base = &curRef.Attrs
				}
				if set := attrDelta(&ref.Attrs, base); len(set) > 0 {
					p.TGTargetUpdates = append(p.TGTargetUpdates, TGTargetUpdate{Group: dg.Name, TGroup: tg.Name, Target: ref.Name, Set: set})
				}
			}
		}
	}
}

// copyManagerKeep returns the devices whose auto-generated copy-manager LUNs
// must survive pruning: the ones assigned in an explicit copy-manager block,
// or every declared device when the configuration leaves the copy manager
// implicit.
func copyManagerKeep(desired *config.Config) map[string]bool {
	keep := make(map[string]bool)
	if drv := desired.Driver(scstfs.CopyManagerDriver); drv != nil {
		if t := drv.Target(scstfs.CopyManagerTarget); t != nil {
			for _, l := range t.Luns {
				keep[l.Device] = true
			}
			return keep
		}
	}
	for _, name := range desired.DeviceNames() {
		keep[name] = true
	}
	return keep
}

func findTargetGroup(dg *config.DeviceGroup, name string) *config.TargetGroup {
	for _, tg := range dg.TargetGroups {
		if tg.Name == name {
			return tg
		}
	}
	return nil
}

func findTGTarget(tg *config.TargetGroup, name string) *config.TGTarget {
	for _, t := range tg.Targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
