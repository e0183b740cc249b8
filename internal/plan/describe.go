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

import "fmt"

// Actions renders the plan as human-readable lines in the order the engine
// would apply them. Used by dry runs.
func (p *Plan) Actions() []string {
	var out []string
	add := func(format string, args ...interface{}) {
		out = append(out, fmt.Sprintf(format, args...))
	}

	for _, d := range p.DriverDisables {
		add("disable driver %s", d)
	}
	for _, ref := range p.TargetDisables {
		add("disable target %s/%s", ref.Driver, ref.Target)
	}
	for _, ref := range p.TGTargetRemovals {
		add("remove target %s from target group %s/%s", ref.Target, ref.Group, ref.TGroup)
	}
	for _, ref := range p.TargetGroupRemovals {
		add("remove target group %s/%s", ref.Group, ref.TGroup)
	}
	for _, ref := range p.DGDeviceRemovals {
		add("remove device %s from device group %s", ref.Device, ref.Group)
	}
	for _, name := range p.DeviceGroupRemovals {
		add("remove device group %s", name)
	}
	for _, rm := range p.GroupLunRemovals {
		add("remove LUN %d from group %s/%s/%s", rm.Number, rm.Scope.Driver, rm.Scope.Target, rm.Scope.Group)
	}
	for _, rm := range p.TargetLunRemovals {
		add("remove LUN %d from target %s/%s", rm.Number, rm.Scope.Driver, rm.Scope.Target)
	}
	for _, ref := range p.InitiatorRemovals {
		add("remove initiator %s from %s/%s/%s", ref.Name, ref.Driver, ref.Target, ref.Group)
	}
	for _, ref := range p.GroupRemovals {
		add("remove group %s from target %s/%s", ref.Group, ref.Driver, ref.Target)
	}
	for _, ref := range p.TargetRemovals {
		add("remove target %s/%s", ref.Driver, ref.Target)
	}
	for _, ref := range p.DeviceRemovals {
		add("remove device %s from handler %s", ref.Device, ref.Handler)
	}
	for _, change := range p.GlobalAttrs {
		add("set %s = %s", change.Name, change.Value)
	}
	for _, a := range p.DeviceAdds {
		add("create device %s under handler %s", a.Device.Name, a.Handler)
	}
	for _, u := range p.DeviceUpdates {
		for _, change := range u.Set {
			add("set device %s/%s %s = %s", u.Handler, u.Device, change.Name, change.Value)
		}
	}
	for _, a := range p.TargetAdds {
		add("create target %s/%s", a.Driver, a.Target.Name)
	}
	for _, a := range p.GroupAdds {
		add("create group %s in target %s/%s", a.Group.Name, a.Driver, a.Target)
	}
	for _, ref := range p.InitiatorAdds {
		add("add initiator %s to %s/%s/%s", ref.Name, ref.Driver, ref.Target, ref.Group)
	}
	for _, u := range p.TargetUpdates {
		for _, change := range u.Set {
			add("set target %s/%s %s = %s", u.Driver, u.Target, change.Name, change.Value)
		}
	}
	for _, u := range p.DriverUpdates {
		for _, change := range u.Set {
			add("set driver %s %s = %s", u.Driver, change.Name, change.Value)
		}
	}
	for _, a := range p.TargetLunAdds {
		add("assign LUN %d device %s to target %s/%s", a.Lun.Number, a.Lun.Device, a.Scope.Driver, a.Scope.Target)
	}
	for _, repl := range p.TargetLunReplaces {
		add("replace LUN %d in target %s/%s", repl.Lun.Number, repl.Scope.Driver, repl.Scope.Target)
	}
	for _, a := range p.GroupLunAdds {
		add("assign LUN %d device %s to group %s/%s/%s", a.Lun.Number, a.Lun.Device, a.Scope.Driver, a.Scope.Target, a.Scope.Group)
	}
	for _, repl := range p.GroupLunReplaces {
		add("replace LUN %d in group %s/%s/%s", repl.Lun.Number, repl.Scope.Driver, repl.Scope.Target, repl.Scope.Group)
	}
	for _, name := range p.DeviceGroupCreates {
		add("create device group %s", name)
	}
	for _, ref := range p.DGDeviceAdds {
		add("add device %s to device group %s", ref.Device, ref.Group)
	}
	for _, ref := range p.TargetGroupCreates {
		add("create target group %s/%s", ref.Group, ref.TGroup)
	}
	for _, ref := range p.TGTargetAdds {
		add("add target %s to target group %s/%s", ref.Target, ref.Group, ref.TGroup)
	}
	for _, u := range p.TGTargetUpdates {
		for _, change := range u.Set {
			add("set target-group member %s/%s/%s %s = %s", u.Group, u.TGroup, u.Target, change.Name, change.Value)
		}
	}
	for _, ref := range p.TargetEnables {
		add("enable target %s/%s", ref.Driver, ref.Target)
	}
	for _, d := range p.DriverEnables {
		add("enable driver %s", d)
	}
	return out
}
