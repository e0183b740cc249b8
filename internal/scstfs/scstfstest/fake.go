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

// Package scstfstest provides an in-memory fake of the SCST control
// filesystem for tests. The fake records every mutation and simulates the
// management-command semantics the engine depends on, including the LUNs the
// copy manager auto-creates when a device is added.
package scstfstest

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/openscst/scstconf/internal/scstfs"
)

// Op is one recorded mutation.
type Op struct {
	// Kind is "write" for attribute writes, "mgmt" for management commands.
	Kind  string
	Path  string
	Value string
}

func (o Op) String() string {
	return fmt.Sprintf("%s %s %q", o.Kind, o.Path, o.Value)
}

type file struct {
	value string
	keyed bool
}

// Fake implements scstfs.Interface over an in-memory tree.
type Fake struct {
	dirs  map[string]bool
	files map[string]file
	links map[string]string

	// Ops records every WriteAttribute and SubmitManagement in order.
	Ops []Op

	// FailCommands maps a command substring to a diagnostic result; a
	// management command containing the substring fails with that result.
	FailCommands map[string]string
	// FailWrites maps an attribute path to a diagnostic result for verified
	// writes.
	FailWrites map[string]string
	// ReadOnly marks attribute paths that reject writes outright.
	ReadOnly map[string]bool
}

var _ scstfs.Interface = (*Fake)(nil)

// New returns a fake with the built-in tree a freshly loaded SCST core
// exposes: empty handlers/targets/device_groups directories, the copy
// manager, and the global attributes.
func New() *Fake {
	f := &Fake{
		dirs:         map[string]bool{"": true},
		files:        make(map[string]file),
		links:        make(map[string]string),
		FailCommands: make(map[string]string),
		FailWrites:   make(map[string]string),
		ReadOnly:     make(map[string]bool),
	}
	f.mkdir("handlers")
	f.mkdir("targets")
	f.mkdir("device_groups")
	f.setFile(scstfs.MgmtResult, "0", false)
	f.setFile(scstfs.SuspendAttr, "0", false)
	f.AddDriver(scstfs.CopyManagerDriver)
	f.addTarget(scstfs.CopyManagerDriver, scstfs.CopyManagerTarget)
	return f
}

// AddHandler seeds a handler directory, as loading its kernel module would.
func (f *Fake) AddHandler(name string) {
	f.mkdir(scstfs.HandlerDir(name))
}

// AddDriver seeds a target driver directory, as loading its kernel module
// would.
func (f *Fake) AddDriver(name string) {
	f.mkdir(scstfs.DriverDir(name))
	f.setFile(scstfs.DriverEnabled(name), "0", false)
}

// ResetOps clears the recorded operation log.
func (f *Fake) ResetOps() {
	f.Ops = nil
}

// MutationCount returns how many mutations have been recorded.
func (f *Fake) MutationCount() int {
	return len(f.Ops)
}

func (f *Fake) mkdir(p string) {
	for ; p != "" && p != "."; p = parent(p) {
		f.dirs[p] = true
	}
}

func (f *Fake) setFile(p, value string, keyed bool) {
	f.files[p] = file{value: value, keyed: keyed}
	f.mkdir(parent(p))
}

func (f *Fake) rmTree(p string) {
	prefix := p + "/"
	for d := range f.dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(f.dirs, d)
		}
	}
	for name := range f.files {
		if name == p || strings.HasPrefix(name, prefix) {
			delete(f.files, name)
		}
	}
	for name := range f.links {
		if name == p || strings.HasPrefix(name, prefix) {
			delete(f.links, name)
		}
	}
}

func parent(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}

func notExist(p string) error {
	return fmt.Errorf("%s: %w", p, fs.ErrNotExist)
}

func (f *Fake) ReadAttribute(p string) (string, error) {
	v, _, err := f.ReadKeyedAttribute(p)
	return v, err
}

func (f *Fake) ReadKeyedAttribute(p string) (string, bool, error) {
	fl, ok := f.files[p]
	if !ok {
		return "", false, notExist(p)
	}
	return fl.value, fl.keyed, nil
}

func (f *Fake) WriteAttribute(p, value string, verify bool) error {
	f.Ops = append(f.Ops, Op{Kind: "write", Path: p, Value: value})
	if f.ReadOnly[p] {
		return &scstfs.OpError{Op: "write", Path: p, Value: value, Err: fs.ErrPermission}
	}
	if result, ok := f.FailWrites[p]; ok {
		f.setFile(scstfs.MgmtResult, result, false)
		if verify {
			return &scstfs.OpError{Op: "write", Path: p, Value: value, Result: result}
		}
		return nil
	}
	if !f.dirs[parent(p)] {
		return &scstfs.OpError{Op: "write", Path: p, Value: value, Err: fs.ErrNotExist}
	}
	f.setFile(p, value, true)
	f.setFile(scstfs.MgmtResult, "0", false)
	return nil
}

func (f *Fake) SubmitManagement(mgmtPath, command string, verify bool) error {
	f.Ops = append(f.Ops, Op{Kind: "mgmt", Path: mgmtPath, Value: command})
	for substr, result := range f.FailCommands {
		if strings.Contains(command, substr) {
			f.setFile(scstfs.MgmtResult, result, false)
			if verify {
				return &scstfs.OpError{Op: "mgmt", Path: mgmtPath, Value: command, Result: result}
			}
			return nil
		}
	}
	if err := f.dispatch(mgmtPath, command); err != nil {
		f.setFile(scstfs.MgmtResult, err.Error(), false)
		if verify {
			return &scstfs.OpError{Op: "mgmt", Path: mgmtPath, Value: command, Result: err.Error()}
		}
		return nil
	}
	f.setFile(scstfs.MgmtResult, "0", false)
	return nil
}

// dispatch interprets a management command against the tree the way the
// kernel side would.
func (f *Fake) dispatch(mgmtPath, command string) error {
	args := strings.Fields(command)
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}
	verb, args := args[0], args[1:]
	seg := strings.Split(mgmtPath, "/")

	switch {
	// handlers/<h>/mgmt
	case len(seg) == 3 && seg[0] == "handlers" && seg[2] == "mgmt":
		return f.handlerCmd(seg[1], verb, args)
	// targets/<d>/mgmt
	case len(seg) == 3 && seg[0] == "targets" && seg[2] == "mgmt":
		return f.driverCmd(seg[1], verb, args)
	// targets/<d>/<t>/mgmt
	case len(seg) == 4 && seg[0] == "targets" && seg[3] == "mgmt":
		return f.targetCmd(seg[1], seg[2], verb, args)
	// .../luns/mgmt
	case len(seg) >= 2 && seg[len(seg)-2] == "luns" && seg[len(seg)-1] == "mgmt":
		return f.lunCmd(parent(mgmtPath), verb, args)
	// .../initiators/mgmt
	case len(seg) == 7 && seg[3] == "ini_groups" && seg[5] == "initiators" && seg[6] == "mgmt":
		return f.initiatorCmd(parent(mgmtPath), verb, args)
	// device_groups/mgmt
	case len(seg) == 2 && seg[0] == "device_groups" && seg[1] == "mgmt":
		return f.deviceGroupCmd(verb, args)
	// device_groups/<dg>/devices/mgmt
	case len(seg) == 4 && seg[0] == "device_groups" && seg[2] == "devices" && seg[3] == "mgmt":
		return f.dgDeviceCmd(seg[1], verb, args)
	// device_groups/<dg>/target_groups/mgmt
	case len(seg) == 4 && seg[0] == "device_groups" && seg[2] == "target_groups" && seg[3] == "mgmt":
		return f.targetGroupCmd(seg[1], verb, args)
	// device_groups/<dg>/target_groups/<tg>/mgmt
	case len(seg) == 5 && seg[0] == "device_groups" && seg[2] == "target_groups" && seg[4] == "mgmt":
		return f.tgTargetCmd(seg[1], seg[3], verb, args)
	}
	return fmt.Errorf("no management file at %s", mgmtPath)
}

func (f *Fake) handlerCmd(handler, verb string, args []string) error {
	if !f.dirs[scstfs.HandlerDir(handler)] {
		return fmt.Errorf("handler %s not registered", handler)
	}
	switch verb {
	case "add_device":
		if len(args) < 1 {
			return fmt.Errorf("add_device: device name required")
		}
		name := args[0]
		dir := scstfs.DeviceDir(handler, name)
		if f.dirs[dir] {
			return fmt.Errorf("device %s already exists", name)
		}
		f.mkdir(dir)
		for _, assign := range args[1:] {
			k, v, ok := strings.Cut(assign, "=")
			if !ok {
				return fmt.Errorf("add_device: bad attribute %q", assign)
			}
			f.setFile(scstfs.DeviceAttr(handler, name, k), v, true)
		}
		f.autoAddCopyManagerLun(name)
		return nil
	case "del_device":
		if len(args) != 1 {
			return fmt.Errorf("del_device: device name required")
		}
		dir := scstfs.DeviceDir(handler, args[0])
		if !f.dirs[dir] {
			return fmt.Errorf("device %s not found", args[0])
		}
		f.rmTree(dir)
		f.dropCopyManagerLuns(args[0])
		return nil
	}
	return fmt.Errorf("unknown handler command %q", verb)
}

// autoAddCopyManagerLun mirrors the kernel behavior of mapping every created
// device under copy_manager_tgt at the next free slot.
func (f *Fake) autoAddCopyManagerLun(device string) {
	lunsDir := scstfs.LunsDir(scstfs.CopyManagerDriver, scstfs.CopyManagerTarget)
	for n := uint64(0); ; n++ {
		dir := path.Join(lunsDir, strconv.FormatUint(n, 10))
		if f.dirs[dir] {
			continue
		}
		f.mkdir(dir)
		f.links[path.Join(dir, "device")] = device
		return
	}
}

func (f *Fake) dropCopyManagerLuns(device string) {
	lunsDir := scstfs.LunsDir(scstfs.CopyManagerDriver, scstfs.CopyManagerTarget)
	for link, target := range f.links {
		if target == device && strings.HasPrefix(link, lunsDir+"/") {
			f.rmTree(parent(link))
		}
	}
}

func (f *Fake) driverCmd(driver, verb string, args []string) error {
	if !f.dirs[scstfs.DriverDir(driver)] {
		return fmt.Errorf("driver %s not registered", driver)
	}
	if len(args) < 1 {
		return fmt.Errorf("%s: target name required", verb)
	}
	name := args[0]
	switch verb {
	case "add_target":
		if f.dirs[scstfs.TargetDir(driver, name)] {
			return fmt.Errorf("target %s already exists", name)
		}
		f.addTarget(driver, name)
		return nil
	case "del_target":
		if !f.dirs[scstfs.TargetDir(driver, name)] {
			return fmt.Errorf("target %s not found", name)
		}
		f.rmTree(scstfs.TargetDir(driver, name))
		return nil
	}
	return fmt.Errorf("unknown driver command %q", verb)
}

func (f *Fake) addTarget(driver, name string) {
	f.mkdir(scstfs.TargetDir(driver, name))
	f.mkdir(scstfs.LunsDir(driver, name))
	f.mkdir(scstfs.IniGroupsDir(driver, name))
	f.setFile(scstfs.TargetEnabled(driver, name), "0", false)
}

func (f *Fake) targetCmd(driver, target, verb string, args []string) error {
	if !f.dirs[scstfs.TargetDir(driver, target)] {
		return fmt.Errorf("target %s not found", target)
	}
	if len(args) != 1 {
		return fmt.Errorf("%s: group name required", verb)
	}
	group := args[0]
	dir := scstfs.IniGroupDir(driver, target, group)
	switch verb {
	case "create_group":
		if f.dirs[dir] {
			return fmt.Errorf("group %s already exists", group)
		}
		f.mkdir(path.Join(dir, "luns"))
		f.mkdir(path.Join(dir, "initiators"))
		return nil
	case "del_group":
		if !f.dirs[dir] {
			return fmt.Errorf("group %s not found", group)
		}
		f.rmTree(dir)
		return nil
	}
	return fmt.Errorf("unknown target command %q", verb)
}

// lunCmd handles "add DEV N [attr=val]", "replace DEV N [attr=val]", "del N"
// and "clear" for a luns directory (target default set or initiator group).
func (f *Fake) lunCmd(lunsDir, verb string, args []string) error {
	if !f.dirs[lunsDir] {
		return notExist(lunsDir)
	}
	switch verb {
	case "add", "replace":
		if len(args) < 2 {
			return fmt.Errorf("%s: device and LUN number required", verb)
		}
		device, lun := args[0], args[1]
		if _, err := strconv.ParseUint(lun, 10, 64); err != nil {
			return fmt.Errorf("%s: bad LUN number %q", verb, lun)
		}
		if !f.deviceExists(device) {
			return fmt.Errorf("%s: device %s not found", verb, device)
		}
		dir := path.Join(lunsDir, lun)
		if f.dirs[dir] {
			if verb == "add" {
				return fmt.Errorf("LUN %s already exists", lun)
			}
			f.rmTree(dir)
		}
		f.mkdir(dir)
		f.links[path.Join(dir, "device")] = device
		for _, assign := range args[2:] {
			k, v, ok := strings.Cut(assign, "=")
			if !ok {
				return fmt.Errorf("%s: bad attribute %q", verb, assign)
			}
			f.setFile(path.Join(dir, k), v, true)
		}
		return nil
	case "del":
		if len(args) != 1 {
			return fmt.Errorf("del: LUN number required")
		}
		dir := path.Join(lunsDir, args[0])
		if !f.dirs[dir] {
			return fmt.Errorf("LUN %s not found", args[0])
		}
		f.rmTree(dir)
		return nil
	case "clear":
		for d := range f.dirs {
			if parent(d) == lunsDir {
				f.rmTree(d)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown LUN command %q", verb)
}

func (f *Fake) deviceExists(device string) bool {
	for d := range f.dirs {
		seg := strings.Split(d, "/")
		if len(seg) == 3 && seg[0] == "handlers" && seg[2] == device {
			return true
		}
	}
	return false
}

func (f *Fake) initiatorCmd(iniDir, verb string, args []string) error {
	if !f.dirs[iniDir] {
		return notExist(iniDir)
	}
	switch verb {
	case "add":
		if len(args) != 1 {
			return fmt.Errorf("add: initiator name required")
		}
		f.setFile(path.Join(iniDir, args[0]), args[0], false)
		return nil
	case "del":
		if len(args) != 1 {
			return fmt.Errorf("del: initiator name required")
		}
		p := path.Join(iniDir, args[0])
		if _, ok := f.files[p]; !ok {
			return fmt.Errorf("initiator %s not found", args[0])
		}
		delete(f.files, p)
		return nil
	case "clear":
		for name := range f.files {
			if parent(name) == iniDir {
				delete(f.files, name)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown initiator command %q", verb)
}

func (f *Fake) deviceGroupCmd(verb string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%s: group name required", verb)
	}
	name := args[0]
	dir := scstfs.DeviceGroupDir(name)
	switch verb {
	case "create":
		if f.dirs[dir] {
			return fmt.Errorf("device group %s already exists", name)
		}
		f.mkdir(scstfs.DGDevicesDir(name))
		f.mkdir(scstfs.DGTargetGroupsDir(name))
		return nil
	case "del":
		if !f.dirs[dir] {
			return fmt.Errorf("device group %s not found", name)
		}
		f.rmTree(dir)
		return nil
	}
	return fmt.Errorf("unknown device group command %q", verb)
}

func (f *Fake) dgDeviceCmd(group, verb string, args []string) error {
	if !f.dirs[scstfs.DGDevicesDir(group)] {
		return fmt.Errorf("device group %s not found", group)
	}
	if len(args) != 1 {
		return fmt.Errorf("%s: device name required", verb)
	}
	dir := path.Join(scstfs.DGDevicesDir(group), args[0])
	switch verb {
	case "add":
		if !f.deviceExists(args[0]) {
			return fmt.Errorf("device %s not found", args[0])
		}
		if f.dirs[dir] {
			return fmt.Errorf("device %s already in group", args[0])
		}
		f.mkdir(dir)
		return nil
	case "del":
		if !f.dirs[dir] {
			return fmt.Errorf("device %s not in group", args[0])
		}
		f.rmTree(dir)
		return nil
	}
	return fmt.Errorf("unknown device command %q", verb)
}

func (f *Fake) targetGroupCmd(group, verb string, args []string) error {
	if !f.dirs[scstfs.DGTargetGroupsDir(group)] {
		return fmt.Errorf("device group %s not found", group)
	}
	if len(args) != 1 {
		return fmt.Errorf("%s: target group name required", verb)
	}
	dir := scstfs.TargetGroupDir(group, args[0])
	switch verb {
	case "create":
		if f.dirs[dir] {
			return fmt.Errorf("target group %s already exists", args[0])
		}
		f.mkdir(dir)
		return nil
	case "del":
		if !f.dirs[dir] {
			return fmt.Errorf("target group %s not found", args[0])
		}
		f.rmTree(dir)
		return nil
	}
	return fmt.Errorf("unknown target group command %q", verb)
}

func (f *Fake) tgTargetCmd(group, tgroup, verb string, args []string) error {
	if !f.dirs[scstfs.TargetGroupDir(group, tgroup)] {
		return fmt.Errorf("target group %s not found", tgroup)
	}
	if len(args) != 1 {
		return fmt.Errorf("%s: target name required", verb)
	}
	dir := scstfs.TGTargetDir(group, tgroup, args[0])
	switch verb {
	case "add":
		if f.dirs[dir] {
			return fmt.Errorf("target %s already in group", args[0])
		}
		f.mkdir(dir)
		return nil
	case "del":
		if !f.dirs[dir] {
			return fmt.Errorf("target %s not in group", args[0])
		}
		f.rmTree(dir)
		return nil
	}
	return fmt.Errorf("unknown target command %q", verb)
}

func (f *Fake) ListDirs(p string) ([]string, error) {
	if !f.dirs[p] {
		return nil, notExist(p)
	}
	var names []string
	for d := range f.dirs {
		if parent(d) == p {
			names = append(names, path.Base(d))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) ListFiles(p string) ([]string, error) {
	if !f.dirs[p] {
		return nil, notExist(p)
	}
	var names []string
	for name := range f.files {
		if parent(name) == p {
			names = append(names, path.Base(name))
		}
	}
	for name := range f.links {
		if parent(name) == p {
			names = append(names, path.Base(name))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) ReadLink(p string) (string, error) {
	target, ok := f.links[p]
	if !ok {
		return "", notExist(p)
	}
	return target, nil
}

func (f *Fake) Exists(p string) bool {
	if f.dirs[p] {
		return true
	}
	if _, ok := f.files[p]; ok {
		return true
	}
	_, ok := f.links[p]
	return ok
}

// CopyManagerLuns returns the device behind each LUN currently under the
// copy-manager target, keyed by LUN number.
func (f *Fake) CopyManagerLuns() map[string]string {
	luns := make(map[string]string)
	lunsDir := scstfs.LunsDir(scstfs.CopyManagerDriver, scstfs.CopyManagerTarget)
	for link, target := range f.links {
		if strings.HasPrefix(link, lunsDir+"/") && path.Base(link) == "device" {
			luns[path.Base(parent(link))] = target
		}
	}
	return luns
}
