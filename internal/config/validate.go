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

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ValidationError reports a structural violation of the model invariants.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func violation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Validate checks the structural invariants of a model: every LUN-referenced
// device is declared, device creation attributes are present, LUN numbers are
// unique per scope, target-group references resolve, and no device belongs to
// more than one device group. All violations are reported, not just the
// first.
func Validate(cfg *Config) error {
	var merr *multierror.Error

	declared := make(map[string]bool)
	for _, h := range cfg.Handlers {
		for _, d := range h.Devices {
			if declared[d.Name] {
				merr = multierror.Append(merr, violation("device %q declared more than once", d.Name))
			}
			declared[d.Name] = true
			if attr, ok := CreateAttr(h.Name); ok {
				if _, present := d.Attrs.Get(attr); !present {
					merr = multierror.Append(merr, violation("device %q of handler %q requires attribute %q", d.Name, h.Name, attr))
				}
			}
		}
	}

	checkLuns := func(scope string, luns []*Lun) {
		seen := make(map[uint64]bool)
		for _, l := range luns {
			if seen[l.Number] {
				merr = multierror.Append(merr, violation("%s: duplicate LUN %d", scope, l.Number))
			}
			seen[l.Number] = true
			if !declared[l.Device] {
				merr = multierror.Append(merr, violation("%s: LUN %d references undeclared device %q", scope, l.Number, l.Device))
			}
		}
	}

	for _, drv := range cfg.Drivers {
		for _, t := range drv.Targets {
			checkLuns(fmt.Sprintf("target %s/%s", drv.Name, t.Name), t.Luns)
			for _, g := range t.Groups {
				checkLuns(fmt.Sprintf("group %s/%s/%s", drv.Name, t.Name, g.Name), g.Luns)
			}
		}
	}

	grouped := make(map[string]string)
	for _, dg := range cfg.DeviceGroups {
		for _, dev := range dg.Devices {
			if !declared[dev] {
				merr = multierror.Append(merr, violation("device group %q references undeclared device %q", dg.Name, dev))
			}
			if prev, ok := grouped[dev]; ok {
				merr = multierror.Append(merr, violation("device %q belongs to device groups %q and %q", dev, prev, dg.Name))
				continue
			}
			grouped[dev] = dg.Name
		}
		for _, tg := range dg.TargetGroups {
			for _, ref := range tg.Targets {
				if !targetDeclared(cfg, ref.Name) {
					merr = multierror.Append(merr, violation("target group %s/%s references unknown target %q", dg.Name, tg.Name, ref.Name))
				}
				if v, ok := ref.Attrs.Get("rel_tgt_id"); ok && ref.RelTgtID() == nil {
					merr = multierror.Append(merr, violation("target group %s/%s: target %q has invalid rel_tgt_id %q", dg.Name, tg.Name, ref.Name, v))
				}
			}
		}
	}

	return merr.ErrorOrNil()
}

func targetDeclared(cfg *Config, name string) bool {
	for _, drv := range cfg.Drivers {
		if drv.Target(name) != nil {
			return true
		}
	}
	return false
}
