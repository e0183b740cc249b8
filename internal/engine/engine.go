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

// Package engine applies a desired configuration to the live SCST subsystem
// in one pass. It loads the required kernel modules, reads the current
// state, diffs it against the desired model, and executes the change sets in
// a strict phase order: conflict removal, device creation, driver/target
// skeleton, LUN assignment, copy-manager pruning, device groups, and finally
// enabling. Creations that later phases depend on are fatal when they fail;
// removals and attribute updates are aggregated and reported at the end of
// the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	"github.com/openscst/scstconf/internal/config"
	"github.com/openscst/scstconf/internal/kmod"
	"github.com/openscst/scstconf/internal/plan"
	"github.com/openscst/scstconf/internal/scstfs"
	"github.com/openscst/scstconf/internal/state"
)

// PreconditionError reports an unusable environment: the control filesystem
// is absent, or a required kernel module cannot be loaded.
type PreconditionError struct {
	Msg string
	Err error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// PartialError reports a run during which some removals or attribute
// updates failed. The successful operations are not rolled back; re-running
// converges the remainder.
type PartialError struct {
	Errs *multierror.Error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("convergence incomplete, %d operations failed: %v", e.Errs.Len(), e.Errs)
}

func (e *PartialError) Unwrap() error { return e.Errs }

// Options tune one convergence run.
type Options struct {
	// Suspend, when positive and the plan is non-empty, is written to the
	// global suspend attribute after the conflict-removal phase and before
	// device creation, and reset to 0 at the end of the run.
	Suspend int
	// Policy maps handlers and drivers to kernel modules.
	Policy kmod.Policy
	// Loader loads kernel modules. A nil Loader skips module loading.
	Loader kmod.Loader
}

// Engine converges the live state onto desired models.
type Engine struct {
	fs   scstfs.Interface
	opts Options
}

// New returns an Engine operating through the given control-filesystem
// adapter.
func New(fs scstfs.Interface, opts Options) *Engine {
	if opts.Policy.Handlers == nil {
		opts.Policy = kmod.DefaultPolicy()
	}
	return &Engine{fs: fs, opts: opts}
}

// Apply converges the subsystem onto the desired model. Applying the same
// model twice performs mutations only on the first run.
func (e *Engine) Apply(ctx context.Context, desired *config.Config) error {
	if err := config.Validate(desired); err != nil {
		return err
	}
	if err := e.loadModules(ctx, desired); err != nil {
		return err
	}
	if err := e.checkPreconditions(desired); err != nil {
		return err
	}

	current, err := state.Read(e.fs)
	if err != nil {
		return &PreconditionError{Msg: "reading current state", Err: err}
	}

	r := &run{
		e:             e,
		ctx:           ctx,
		desired:       desired,
		current:       current,
		pl:            plan.Diff(desired, current),
		targetEnabled: make(map[plan.TargetRef]bool),
		driverEnabled: make(map[string]bool),
	}
	for _, drv := range current.Drivers {
		r.driverEnabled[drv.Name] = drv.Enabled
		for _, t := range drv.Targets {
			r.targetEnabled[plan.TargetRef{Driver: drv.Name, Target: t.Name}] = t.Enabled
		}
	}
	return r.converge()
}

// Clear tears down everything except the built-in copy manager by converging
// onto an empty model.
func (e *Engine) Clear(ctx context.Context) error {
	return e.Apply(ctx, &config.Config{})
}

// loadModules loads every kernel module the desired model needs. A required
// module failing aborts the run; an optional one is skipped with a log line.
func (e *Engine) loadModules(ctx context.Context, desired *config.Config) error {
	if e.opts.Loader == nil {
		return nil
	}
	logger := klog.FromContext(ctx)
	for _, m := range kmod.Required(e.opts.Policy, desired) {
		err := e.opts.Loader.Load(ctx, m.Name)
		if err == nil {
			continue
		}
		if m.Optional {
			logger.Info("Skipping optional kernel module", "module", m.Name, "reason", err)
			continue
		}
		return &PreconditionError{Msg: fmt.Sprintf("required kernel module %s", m.Name), Err: err}
	}
	return nil
}

// checkPreconditions verifies the control filesystem is present and that
// every handler and driver the desired model references has registered.
func (e *Engine) checkPreconditions(desired *config.Config) error {
	if !e.fs.Exists(scstfs.MgmtResult) {
		return &PreconditionError{Msg: "control filesystem not available (is the scst module loaded?)"}
	}
	for _, h := range desired.Handlers {
		if !e.fs.Exists(scstfs.HandlerDir(h.Name)) {
			return &PreconditionError{Msg: fmt.Sprintf("handler %s not registered", h.Name)}
		}
	}
	for _, d := range desired.Drivers {
		if !e.fs.Exists(scstfs.DriverDir(d.Name)) {
			return &PreconditionError{Msg: fmt.Sprintf("target driver %s not registered", d.Name)}
		}
	}
	return nil
}

// run is the state of one convergence pass.
type run struct {
	e       *Engine
	ctx     context.Context
	desired *config.Config
	current *config.Config
	pl      *plan.Plan

	merr *multierror.Error

	// Live enable state, updated as the run writes enable toggles.
	targetEnabled map[plan.TargetRef]bool
	driverEnabled map[string]bool

	// Entities disabled mid-run for a restricted attribute write, to be
	// re-enabled in the enable phases.
	reEnableTargets []plan.TargetRef
	reEnableDrivers []string

	// Driver attribute writes deferred until after the driver is enabled.
	postEnable []driverAttrWrite

	suspended bool
}

type driverAttrWrite struct {
	driver string
	attr   plan.AttrChange
}

func (r *run) converge() error {
	logger := klog.FromContext(r.ctx)

	if err := r.phaseConflictRemoval(); err != nil {
		return r.finish(err)
	}

	if r.e.opts.Suspend > 0 && !r.pl.Empty() {
		if err := r.e.fs.WriteAttribute(scstfs.SuspendAttr, strconv.Itoa(r.e.opts.Suspend), false); err != nil {
			return fmt.Errorf("suspending I/O: %w", err)
		}
		r.suspended = true
		defer r.resume(logger)
	}

	for _, phase := range []func() error{
		r.phaseDevices,
		r.phaseSkeleton,
		r.phaseLuns,
		r.phaseCopyManager,
		r.phaseDeviceGroups,
		r.phaseEnableTargets,
		r.phaseEnableDrivers,
		r.phaseDriverPostEnable,
	} {
		if err := phase(); err != nil {
			return r.finish(err)
		}
	}
	return r.finish(nil)
}

func (r *run) resume(logger klog.Logger) {
	if err := r.e.fs.WriteAttribute(scstfs.SuspendAttr, "0", false); err != nil {
		logger.Error(err, "Failed to resume I/O after convergence")
	}
}

// finish folds the aggregated operation errors into the outcome.
func (r *run) finish(fatal error) error {
	if fatal != nil {
		return fatal
	}
	if r.merr != nil {
		return &PartialError{Errs: r.merr}
	}
	return nil
}

// mgmt submits a management command, checking for cancellation first.
func (r *run) mgmt(path, command string) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	return r.e.fs.SubmitManagement(path, command, true)
}

// write writes an attribute, checking for cancellation first.
func (r *run) write(path, value string) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	return r.e.fs.WriteAttribute(path, value, true)
}

// nonFatal aggregates an operation error and lets the phase continue.
// Cancellation is never aggregated.
func (r *run) nonFatal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	klog.FromContext(r.ctx).Error(err, "Operation failed, continuing")
	r.merr = multierror.Append(r.merr, err)
	return nil
}

// phaseConflictRemoval removes everything that conflicts with the desired
// model, in reverse dependency order: device groups first, devices last.
// Failures here are aggregated; a leftover entity surfaces again as a
// conflict on the next run.
func (r *run) phaseConflictRemoval() error {
	for _, driver := range r.pl.DriverDisables {
		if err := r.nonFatal(r.write(scstfs.DriverEnabled(driver), "0")); err != nil {
			return err
		}
		r.driverEnabled[driver] = false
	}
	for _, ref := range r.pl.TargetDisables {
		if err := r.nonFatal(r.write(scstfs.TargetEnabled(ref.Driver, ref.Target), "0")); err != nil {
			return err
		}
		r.targetEnabled[ref] = false
	}
	for _, ref := range r.pl.TGTargetRemovals {
		if err := r.nonFatal(r.mgmt(scstfs.TargetGroupMgmt(ref.Group, ref.TGroup), "del "+ref.Target)); err != nil {
			return err
		}
	}
	for _, ref := range r.pl.TargetGroupRemovals {
		if err := r.nonFatal(r.mgmt(scstfs.DGTargetGroupsMgmt(ref.Group), "del "+ref.TGroup)); err != nil {
			return err
		}
	}
	for _, ref := range r.pl.DGDeviceRemovals {
		if err := r.nonFatal(r.mgmt(scstfs.DGDevicesMgmt(ref.Group), "del "+ref.Device)); err != nil {
			return err
		}
	}
	for _, name := range r.pl.DeviceGroupRemovals {
		if err := r.nonFatal(r.mgmt(scstfs.DeviceGroupsMgmt(), "del "+name)); err != nil {
			return err
		}
	}
	for _, rm := range r.pl.GroupLunRemovals {
		mgmtPath := scstfs.GroupLunsMgmt(rm.Scope.Driver, rm.Scope.Target, rm.Scope.Group)
		if err := r.nonFatal(r.mgmt(mgmtPath, "del "+strconv.FormatUint(rm.Number, 10))); err != nil {
			return err
		}
	}
	for _, rm := range r.pl.TargetLunRemovals {
		mgmtPath := scstfs.LunsMgmt(rm.Scope.Driver, rm.Scope.Target)
		if err := r.nonFatal(r.mgmt(mgmtPath, "del "+strconv.FormatUint(rm.Number, 10))); err != nil {
			return err
		}
	}
	for _, ref := range r.pl.InitiatorRemovals {
		mgmtPath := scstfs.GroupInitiatorsMgmt(ref.Driver, ref.Target, ref.Group)
		if err := r.nonFatal(r.mgmt(mgmtPath, "del "+ref.Name)); err != nil {
			return err
		}
	}
	for _, ref := range r.pl.GroupRemovals {
		if err := r.nonFatal(r.mgmt(scstfs.TargetMgmt(ref.Driver, ref.Target), "del_group "+ref.Group)); err != nil {
			return err
		}
	}
	for _, ref := range r.pl.TargetRemovals {
		if r.targetEnabled[ref] {
			if err := r.nonFatal(r.write(scstfs.TargetEnabled(ref.Driver, ref.Target), "0")); err != nil {
				return err
			}
			r.targetEnabled[ref] = false
		}
		if err := r.nonFatal(r.mgmt(scstfs.DriverMgmt(ref.Driver), "del_target "+ref.Target)); err != nil {
			return err
		}
	}
	for _, ref := range r.pl.DeviceRemovals {
		if err := r.nonFatal(r.mgmt(scstfs.HandlerMgmt(ref.Handler), "del_device "+ref.Device)); err != nil {
			return err
		}
	}
	return nil
}

// phaseDevices creates new devices and rewrites changed device attributes.
// The creation command carries the handler's required attribute; everything
// else is written afterwards. Creation failures are fatal because later
// phases assign the device to LUNs.
func (r *run) phaseDevices() error {
	for _, change := range r.pl.GlobalAttrs {
		if err := r.nonFatal(r.write(change.Name, change.Value)); err != nil {
			return err
		}
	}
	for _, add := range r.pl.DeviceAdds {
		command := "add_device " + add.Device.Name
		createAttr, _ := config.CreateAttr(add.Handler)
		if createAttr != "" {
			if v, ok := add.Device.Attrs.Get(createAttr); ok {
				command += " " + createAttr + "=" + v
			}
		}
		if err := r.mgmt(scstfs.HandlerMgmt(add.Handler), command); err != nil {
			return fmt.Errorf("creating device %s: %w", add.Device.Name, err)
		}
		for _, k := range add.Device.Attrs.Keys() {
			if k == createAttr {
				continue
			}
			v, _ := add.Device.Attrs.Get(k)
			if err := r.nonFatal(r.write(scstfs.DeviceAttr(add.Handler, add.Device.Name, k), v)); err != nil {
				return err
			}
		}
	}
	for _, update := range r.pl.DeviceUpdates {
		for _, change := range update.Set {
			if err := r.nonFatal(r.write(scstfs.DeviceAttr(update.Handler, update.Device, change.Name), change.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

// phaseSkeleton creates targets and initiator groups, adds initiator names,
// and applies driver and target attributes. Restricted attributes get a
// disable/write/re-enable cycle.
func (r *run) phaseSkeleton() error {
	for _, add := range r.pl.TargetAdds {
		if err := r.mgmt(scstfs.DriverMgmt(add.Driver), "add_target "+add.Target.Name); err != nil {
			return fmt.Errorf("creating target %s/%s: %w", add.Driver, add.Target.Name, err)
		}
	}
	for _, add := range r.pl.GroupAdds {
		if err := r.mgmt(scstfs.TargetMgmt(add.Driver, add.Target), "create_group "+add.Group.Name); err != nil {
			return fmt.Errorf("creating group %s in %s/%s: %w", add.Group.Name, add.Driver, add.Target, err)
		}
	}
	for _, ref := range r.pl.InitiatorAdds {
		if err := r.mgmt(scstfs.GroupInitiatorsMgmt(ref.Driver, ref.Target, ref.Group), "add "+ref.Name); err != nil {
			return fmt.Errorf("adding initiator %s to %s/%s/%s: %w", ref.Name, ref.Driver, ref.Target, ref.Group, err)
		}
	}
	for _, update := range r.pl.TargetUpdates {
		ref := plan.TargetRef{Driver: update.Driver, Target: update.Target}
		for _, change := range update.Set {
			if targetAttrRequiresDisabled(update.Driver, change.Name) && r.targetEnabled[ref] {
				if err := r.nonFatal(r.write(scstfs.TargetEnabled(ref.Driver, ref.Target), "0")); err != nil {
					return err
				}
				r.targetEnabled[ref] = false
				if r.desiredTargetEnabled(ref) {
					r.reEnableTargets = append(r.reEnableTargets, ref)
				}
			}
			if err := r.nonFatal(r.write(scstfs.TargetAttr(update.Driver, update.Target, change.Name), change.Value)); err != nil {
				return err
			}
		}
	}
	for _, update := range r.pl.DriverUpdates {
		for _, change := range update.Set {
			if driverAttrRequiresEnabled(update.Driver, change.Name) {
				r.postEnable = append(r.postEnable, driverAttrWrite{driver: update.Driver, attr: change})
				continue
			}
			if driverAttrRequiresDisabled(update.Driver, change.Name) && r.driverEnabled[update.Driver] {
				if err := r.nonFatal(r.write(scstfs.DriverEnabled(update.Driver), "0")); err != nil {
					return err
				}
				r.driverEnabled[update.Driver] = false
				if r.desiredDriverEnabled(update.Driver) {
					r.reEnableDrivers = append(r.reEnableDrivers, update.Driver)
				}
			}
			if err := r.nonFatal(r.write(scstfs.DriverAttr(update.Driver, change.Name), change.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) desiredTargetEnabled(ref plan.TargetRef) bool {
	if drv := r.desired.Driver(ref.Driver); drv != nil {
		if t := drv.Target(ref.Target); t != nil {
			return t.Enabled
		}
	}
	return false
}

func (r *run) desiredDriverEnabled(name string) bool {
	if drv := r.desired.Driver(name); drv != nil {
		return drv.Enabled
	}
	return false
}

// phaseLuns performs the LUN assignments: additions for free numbers,
// replace for occupied numbers whose attributes changed.
func (r *run) phaseLuns() error {
	apply := func(adds []plan.LunAdd, replaces []plan.LunReplace, mgmtFor func(plan.LunScope) string) error {
		for _, add := range adds {
			if err := r.mgmt(mgmtFor(add.Scope), lunCommand("add", add.Lun)); err != nil {
				return fmt.Errorf("assigning LUN %d in %s/%s: %w", add.Lun.Number, add.Scope.Driver, add.Scope.Target, err)
			}
		}
		for _, repl := range replaces {
			if err := r.nonFatal(r.mgmt(mgmtFor(repl.Scope), lunCommand("replace", repl.Lun))); err != nil {
				return err
			}
		}
		return nil
	}
	err := apply(r.pl.TargetLunAdds, r.pl.TargetLunReplaces, func(s plan.LunScope) string {
		return scstfs.LunsMgmt(s.Driver, s.Target)
	})
	if err != nil {
		return err
	}
	return apply(r.pl.GroupLunAdds, r.pl.GroupLunReplaces, func(s plan.LunScope) string {
		return scstfs.GroupLunsMgmt(s.Driver, s.Target, s.Group)
	})
}

func lunCommand(verb string, lun *config.Lun) string {
	command := verb + " " + lun.Device + " " + strconv.FormatUint(lun.Number, 10)
	for _, k := range lun.Attrs.Keys() {
		v, _ := lun.Attrs.Get(k)
		command += " " + k + "=" + v
	}
	return command
}

// phaseCopyManager prunes the LUNs the subsystem auto-created under the
// copy-manager target. It runs after device creation and LUN assignment, so
// the freshly auto-created LUNs are visible; the live set is re-read rather
// than taken from the pre-run model.
func (r *run) phaseCopyManager() error {
	lunsDir := scstfs.LunsDir(scstfs.CopyManagerDriver, scstfs.CopyManagerTarget)
	entries, err := r.e.fs.ListDirs(lunsDir)
	if err != nil {
		return r.nonFatal(err)
	}
	for _, entry := range entries {
		if _, err := strconv.ParseUint(entry, 10, 64); err != nil {
			continue
		}
		device, err := r.e.fs.ReadLink(scstfs.LunDevice(scstfs.CopyManagerDriver, scstfs.CopyManagerTarget, entry))
		if err != nil {
			continue
		}
		if r.pl.CopyManagerKeep[device] {
			continue
		}
		mgmtPath := scstfs.LunsMgmt(scstfs.CopyManagerDriver, scstfs.CopyManagerTarget)
		if err := r.nonFatal(r.mgmt(mgmtPath, "del "+entry)); err != nil {
			return err
		}
	}
	return nil
}

// phaseDeviceGroups builds the ALUA configuration: device groups, their
// device members, target groups, target references and per-target
// attributes.
func (r *run) phaseDeviceGroups() error {
	for _, name := range r.pl.DeviceGroupCreates {
		if err := r.mgmt(scstfs.DeviceGroupsMgmt(), "create "+name); err != nil {
			return fmt.Errorf("creating device group %s: %w", name, err)
		}
	}
	for _, ref := range r.pl.DGDeviceAdds {
		if err := r.mgmt(scstfs.DGDevicesMgmt(ref.Group), "add "+ref.Device); err != nil {
			return fmt.Errorf("adding device %s to group %s: %w", ref.Device, ref.Group, err)
		}
	}
	for _, ref := range r.pl.TargetGroupCreates {
		if err := r.mgmt(scstfs.DGTargetGroupsMgmt(ref.Group), "create "+ref.TGroup); err != nil {
			return fmt.Errorf("creating target group %s/%s: %w", ref.Group, ref.TGroup, err)
		}
	}
	for _, ref := range r.pl.TGTargetAdds {
		if err := r.mgmt(scstfs.TargetGroupMgmt(ref.Group, ref.TGroup), "add "+ref.Target); err != nil {
			return fmt.Errorf("adding target %s to group %s/%s: %w", ref.Target, ref.Group, ref.TGroup, err)
		}
	}
	for _, update := range r.pl.TGTargetUpdates {
		for _, change := range update.Set {
			attrPath := scstfs.TGTargetAttr(update.Group, update.TGroup, update.Target, change.Name)
			if err := r.nonFatal(r.write(attrPath, change.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

// phaseEnableTargets enables every target that desires it and re-enables
// the ones disabled mid-run. Enable failures are fatal.
func (r *run) phaseEnableTargets() error {
	for _, ref := range r.enableTargetSet() {
		if err := r.write(scstfs.TargetEnabled(ref.Driver, ref.Target), "1"); err != nil {
			return fmt.Errorf("enabling target %s/%s: %w", ref.Driver, ref.Target, err)
		}
		r.targetEnabled[ref] = true
	}
	return nil
}

func (r *run) enableTargetSet() []plan.TargetRef {
	var refs []plan.TargetRef
	seen := make(map[plan.TargetRef]bool)
	for _, ref := range append(append([]plan.TargetRef{}, r.pl.TargetEnables...), r.reEnableTargets...) {
		if seen[ref] || r.targetEnabled[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// phaseEnableDrivers enables drivers last, after their targets.
func (r *run) phaseEnableDrivers() error {
	var drivers []string
	seen := make(map[string]bool)
	for _, name := range append(append([]string{}, r.pl.DriverEnables...), r.reEnableDrivers...) {
		if seen[name] || r.driverEnabled[name] {
			continue
		}
		seen[name] = true
		drivers = append(drivers, name)
	}
	for _, name := range drivers {
		if err := r.write(scstfs.DriverEnabled(name), "1"); err != nil {
			return fmt.Errorf("enabling driver %s: %w", name, err)
		}
		r.driverEnabled[name] = true
	}
	return nil
}

// phaseDriverPostEnable applies driver attributes the kernel side only
// accepts on an enabled driver.
func (r *run) phaseDriverPostEnable() error {
	for _, w := range r.postEnable {
		if err := r.nonFatal(r.write(scstfs.DriverAttr(w.driver, w.attr.Name), w.attr.Value)); err != nil {
			return err
		}
	}
	return nil
}
