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

// Package kmod maps a desired configuration to the kernel modules it needs
// and loads them. The mapping is a static policy table, optionally overlaid
// by a TOML file for out-of-tree handler or driver modules.
package kmod

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/openscst/scstconf/internal/config"
)

// Module is one kernel module requirement. Optional modules improve the
// configuration (acceleration, niceties) but their absence does not prevent
// convergence.
type Module struct {
	Name     string
	Optional bool
}

// Policy maps handler and driver names to their kernel modules.
type Policy struct {
	Handlers map[string]string `toml:"handlers"`
	Drivers  map[string]string `toml:"drivers"`
}

// DefaultPolicy returns the built-in policy table for in-tree SCST modules.
func DefaultPolicy() Policy {
	return Policy{
		Handlers: map[string]string{
			"vdisk_fileio":  "scst_vdisk",
			"vdisk_blockio": "scst_vdisk",
			"vdisk_nullio":  "scst_vdisk",
			"vcdrom":        "scst_vdisk",
			"dev_disk":      "scst_disk",
			"dev_disk_perf": "scst_disk",
			"dev_cdrom":     "scst_cdrom",
			"dev_tape":      "scst_tape",
			"dev_tape_perf": "scst_tape",
			"dev_changer":   "scst_changer",
			"dev_processor": "scst_processor",
			"dev_raid":      "scst_raid",
		},
		Drivers: map[string]string{
			"iscsi":      "iscsi_scst",
			"qla2x00t":   "qla2x00tgt",
			"ib_srpt":    "ib_srpt",
			"fcst":       "fcst",
			"scst_local": "scst_local",
			// The copy manager is part of the core, not a loadable module.
			"copy_manager": "",
		},
	}
}

// LoadPolicyFile reads a TOML policy file and overlays it onto the built-in
// table. Entries in the file win; handlers or drivers it does not mention
// keep their defaults.
func LoadPolicyFile(path string) (Policy, error) {
	policy := DefaultPolicy()
	var override Policy
	if _, err := toml.DecodeFile(path, &override); err != nil {
		return Policy{}, fmt.Errorf("load module policy %s: %w", path, err)
	}
	for handler, module := range override.Handlers {
		policy.Handlers[handler] = module
	}
	for driver, module := range override.Drivers {
		policy.Drivers[driver] = module
	}
	return policy, nil
}

// Required computes the union of kernel modules the desired configuration
// needs, in a deterministic order: the core first, then handler modules,
// then driver modules, then architecture-conditional extras. Handlers and
// drivers missing from the policy table are assumed built-in or already
// loaded; the control filesystem check catches the difference later.
func Required(policy Policy, cfg *config.Config) []Module {
	var modules []Module
	seen := map[string]bool{}
	add := func(name string, optional bool) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		modules = append(modules, Module{Name: name, Optional: optional})
	}

	add("scst", false)
	for _, h := range cfg.Handlers {
		add(policy.Handlers[h.Name], false)
	}
	usesISCSI := false
	for _, d := range cfg.Drivers {
		add(policy.Drivers[d.Name], false)
		if d.Name == "iscsi" {
			usesISCSI = true
		}
	}
	// Hardware CRC32C offload for iSCSI data digests on x86-family hosts.
	if usesISCSI && (runtime.GOARCH == "amd64" || runtime.GOARCH == "386") {
		add("crc32c-intel", true)
	}
	return modules
}

// Loader loads one kernel module by name.
type Loader interface {
	Load(ctx context.Context, name string) error
}

// ExecLoader shells out to modprobe.
type ExecLoader struct {
	// Timeout bounds one modprobe invocation.
	Timeout time.Duration
}

func (l ExecLoader) Load(ctx context.Context, name string) error {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, "modprobe", name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("modprobe %s: %v: %s", name, err, out)
	}
	return nil
}
