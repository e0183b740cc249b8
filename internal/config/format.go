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
	"strings"
)

// Format renders a model back into the block-structured text format. The
// output is canonical: parsing it yields a model equal to the input, and
// formatting that model reproduces the same text.
func Format(cfg *Config) string {
	var b strings.Builder
	for _, k := range cfg.Attrs.Keys() {
		v, _ := cfg.Attrs.Get(k)
		fmt.Fprintf(&b, "%s %s\n", k, formatValue(v))
	}
	if cfg.Attrs.Len() > 0 && (len(cfg.Handlers) > 0 || len(cfg.Drivers) > 0 || len(cfg.DeviceGroups) > 0) {
		b.WriteString("\n")
	}

	for _, h := range cfg.Handlers {
		fmt.Fprintf(&b, "HANDLER %s {\n", h.Name)
		for _, d := range h.Devices {
			fmt.Fprintf(&b, "\tDEVICE %s {\n", d.Name)
			writeAttrs(&b, "\t\t", &d.Attrs)
			b.WriteString("\t}\n")
		}
		b.WriteString("}\n\n")
	}

	for _, drv := range cfg.Drivers {
		fmt.Fprintf(&b, "TARGET_DRIVER %s {\n", drv.Name)
		writeAttrs(&b, "\t", &drv.Attrs)
		for _, t := range drv.Targets {
			fmt.Fprintf(&b, "\tTARGET %s {\n", t.Name)
			writeAttrs(&b, "\t\t", &t.Attrs)
			for _, l := range t.Luns {
				writeLun(&b, "\t\t", l)
			}
			for _, g := range t.Groups {
				fmt.Fprintf(&b, "\t\tGROUP %s {\n", g.Name)
				for _, l := range g.Luns {
					writeLun(&b, "\t\t\t", l)
				}
				for _, ini := range g.Initiators {
					fmt.Fprintf(&b, "\t\t\tINITIATOR %s\n", ini)
				}
				b.WriteString("\t\t}\n")
			}
			if t.Enabled {
				b.WriteString("\t\tenabled 1\n")
			}
			b.WriteString("\t}\n")
		}
		if drv.Enabled {
			b.WriteString("\tenabled 1\n")
		}
		b.WriteString("}\n\n")
	}

	for _, dg := range cfg.DeviceGroups {
		fmt.Fprintf(&b, "DEVICE_GROUP %s {\n", dg.Name)
		for _, dev := range dg.Devices {
			fmt.Fprintf(&b, "\tDEVICE %s\n", dev)
		}
		for _, tg := range dg.TargetGroups {
			fmt.Fprintf(&b, "\tTARGET_GROUP %s {\n", tg.Name)
			for _, t := range tg.Targets {
				if t.Attrs.Len() == 0 {
					fmt.Fprintf(&b, "\t\tTARGET %s\n", t.Name)
					continue
				}
				fmt.Fprintf(&b, "\t\tTARGET %s {\n", t.Name)
				writeAttrs(&b, "\t\t\t", &t.Attrs)
				b.WriteString("\t\t}\n")
			}
			b.WriteString("\t}\n")
		}
		b.WriteString("}\n\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeAttrs(b *strings.Builder, indent string, attrs *Attributes) {
	for _, k := range attrs.Keys() {
		v, _ := attrs.Get(k)
		fmt.Fprintf(b, "%s%s %s\n", indent, k, formatValue(v))
	}
}

func writeLun(b *strings.Builder, indent string, l *Lun) {
	fmt.Fprintf(b, "%sLUN %d %s", indent, l.Number, l.Device)
	for _, k := range l.Attrs.Keys() {
		v, _ := l.Attrs.Get(k)
		fmt.Fprintf(b, " %s=%s", k, v)
	}
	b.WriteString("\n")
}

// formatValue quotes a value when the bare form would not survive reparsing:
// empty values, values containing comment or brace characters, and values
// already wrapped in a quote pair.
func formatValue(v string) string {
	needQuote := v == "" ||
		strings.ContainsAny(v, "#{}") ||
		v != strings.TrimSpace(v) ||
		(len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"')
	if needQuote {
		return `"` + v + `"`
	}
	return v
}
