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
	"os"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

// ParseError reports malformed configuration text with its location.
type ParseError struct {
	File    string
	Line    int
	Col     int
	Excerpt string
	Msg     string
}

func (e *ParseError) Error() string {
	if e.Excerpt != "" {
		return fmt.Sprintf("%s:%d:%d: %s (near %q)", e.File, e.Line, e.Col, e.Msg, e.Excerpt)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Col, e.Msg)
}

// ParseFile reads and parses a configuration file.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse parses configuration text into a Config. The file name is used only
// for error reporting. On malformed input the returned error is a
// *ParseError carrying the offending line.
func Parse(file string, data []byte) (*Config, error) {
	p := &parser{
		file:  file,
		src:   []rune(string(data)),
		line:  1,
		col:   1,
		lines: strings.Split(string(data), "\n"),
	}
	cfg := &Config{}
	if err := p.parseRoot(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type parser struct {
	file  string
	src   []rune
	pos   int
	line  int
	col   int
	lines []string
}

func (p *parser) errAt(line, col int, format string, args ...interface{}) error {
	excerpt := ""
	if line-1 >= 0 && line-1 < len(p.lines) {
		excerpt = strings.TrimSpace(p.lines[line-1])
		if len(excerpt) > 60 {
			excerpt = excerpt[:60]
		}
	}
	return &ParseError{
		File:    p.file,
		Line:    line,
		Col:     col,
		Excerpt: excerpt,
		Msg:     fmt.Sprintf(format, args...),
	}
}

func (p *parser) peek() rune {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) advance() rune {
	r := p.src[p.pos]
	p.pos++
	if r == '\n' {
		p.line++
		p.col = 1
	} else {
		p.col++
	}
	return r
}

// skipSpace skips horizontal whitespace and comments, but not newlines.
func (p *parser) skipSpace() {
	for {
		switch p.peek() {
		case ' ', '\t', '\r':
			p.advance()
		case '#':
			for p.peek() != '\n' && p.peek() != 0 {
				p.advance()
			}
		default:
			return
		}
	}
}

// skipBlank skips whitespace, comments and newlines.
func (p *parser) skipBlank() {
	for {
		p.skipSpace()
		if p.peek() != '\n' {
			return
		}
		p.advance()
	}
}

// word reads a bare word: a run of characters up to whitespace, a brace, a
// comment or end of input.
func (p *parser) word() string {
	var b strings.Builder
	for {
		r := p.peek()
		if r == 0 || r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == '{' || r == '}' || r == '#' {
			return b.String()
		}
		b.WriteRune(p.advance())
	}
}

// restOfLine captures the raw text up to an unquoted brace, a comment, a
// newline or end of input and reports which rune stopped it (0 at EOF). The
// stopping rune is not consumed. A '#' inside double quotes is literal, as
// are braces.
func (p *parser) restOfLine() (string, rune) {
	var b strings.Builder
	inQuote := false
	for {
		r := p.peek()
		if r == 0 {
			return b.String(), 0
		}
		if r == '\n' {
			return b.String(), '\n'
		}
		if inQuote {
			if r == '"' {
				inQuote = false
			}
			b.WriteRune(p.advance())
			continue
		}
		switch r {
		case '{', '}', '#':
			return b.String(), r
		case '"':
			inQuote = true
			b.WriteRune(p.advance())
		default:
			b.WriteRune(p.advance())
		}
	}
}

// cleanValue trims a captured value and strips exactly one pair of
// surrounding double quotes.
func cleanValue(seg string) string {
	s := strings.TrimSpace(seg)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}

// item is one syntactic element of a block body: either a nested block
// (isBlock true, header name in name) or a leaf line whose raw remainder is
// in seg.
type item struct {
	kind    string
	name    string
	seg     string
	isBlock bool
	line    int
	col     int
}

// nextItem reads the next body element. It returns done=true when the block's
// closing brace was consumed, and eof=true at end of input with the brace
// still open.
func (p *parser) nextItem() (it item, done, eof bool, err error) {
	p.skipBlank()
	switch p.peek() {
	case 0:
		return item{}, false, true, nil
	case '}':
		p.advance()
		return item{}, true, false, nil
	case '{':
		return item{}, false, false, p.errAt(p.line, p.col, "unexpected '{'")
	}
	it.line, it.col = p.line, p.col
	it.kind = p.word()
	if it.kind == "" {
		return item{}, false, false, p.errAt(p.line, p.col, "unexpected character %q", string(p.peek()))
	}
	seg, stop := p.restOfLine()
	if stop == '{' {
		p.advance()
		name := strings.TrimSpace(seg)
		if strings.ContainsAny(name, " \t") {
			return item{}, false, false, p.errAt(it.line, it.col, "invalid %s block header: one name expected", it.kind)
		}
		it.name = name
		it.isBlock = true
		return it, false, false, nil
	}
	it.seg = seg
	return it, false, false, nil
}

func (p *parser) parseRoot(cfg *Config) error {
	for {
		it, done, eof, err := p.nextItem()
		if err != nil {
			return err
		}
		if eof {
			return nil
		}
		if done {
			return p.errAt(p.line, p.col, "unexpected '}' outside any block")
		}
		if it.isBlock {
			switch it.kind {
			case "HANDLER":
				if err := p.parseHandler(cfg, it); err != nil {
					return err
				}
			case "TARGET_DRIVER":
				if err := p.parseDriver(cfg, it); err != nil {
					return err
				}
			case "DEVICE_GROUP":
				if err := p.parseDeviceGroup(cfg, it); err != nil {
					return err
				}
			default:
				return p.errAt(it.line, it.col, "unknown block kind %q", it.kind)
			}
			continue
		}
		p.setAttr(&cfg.Attrs, it)
	}
}

// setAttr stores a leaf attribute, warning when it overrides an earlier
// sibling of the same name.
func (p *parser) setAttr(attrs *Attributes, it item) {
	if _, ok := attrs.Get(it.kind); ok {
		klog.Warningf("%s:%d: duplicate attribute %q overrides earlier value", p.file, it.line, it.kind)
	}
	attrs.Set(it.kind, cleanValue(it.seg))
}

func (p *parser) parseHandler(cfg *Config, open item) error {
	if open.name == "" {
		return p.errAt(open.line, open.col, "HANDLER block requires a name")
	}
	if cfg.Handler(open.name) != nil {
		return p.errAt(open.line, open.col, "duplicate HANDLER %q", open.name)
	}
	h := &Handler{Name: open.name}
	for {
		it, done, eof, err := p.nextItem()
		if err != nil {
			return err
		}
		if eof {
			return p.errAt(open.line, open.col, "unclosed HANDLER block")
		}
		if done {
			cfg.Handlers = append(cfg.Handlers, h)
			return nil
		}
		if it.kind != "DEVICE" {
			return p.errAt(it.line, it.col, "unexpected %q in HANDLER block: DEVICE expected", it.kind)
		}
		name := it.name
		if !it.isBlock {
			name = cleanValue(it.seg)
		}
		if name == "" {
			return p.errAt(it.line, it.col, "DEVICE requires a name")
		}
		if h.Device(name) != nil {
			return p.errAt(it.line, it.col, "duplicate DEVICE %q", name)
		}
		d := &Device{Name: name}
		if it.isBlock {
			if err := p.parseDevice(d, it); err != nil {
				return err
			}
		}
		h.Devices = append(h.Devices, d)
	}
}

func (p *parser) parseDevice(d *Device, open item) error {
	for {
		it, done, eof, err := p.nextItem()
		if err != nil {
			return err
		}
		if eof {
			return p.errAt(open.line, open.col, "unclosed DEVICE block")
		}
		if done {
			return nil
		}
		if it.isBlock {
			return p.errAt(it.line, it.col, "unexpected %s block in DEVICE", it.kind)
		}
		p.setAttr(&d.Attrs, it)
	}
}

func (p *parser) parseDriver(cfg *Config, open item) error {
	if open.name == "" {
		return p.errAt(open.line, open.col, "TARGET_DRIVER block requires a name")
	}
	if cfg.Driver(open.name) != nil {
		return p.errAt(open.line, open.col, "duplicate TARGET_DRIVER %q", open.name)
	}
	drv := &Driver{Name: open.name}
	for {
		it, done, eof, err := p.nextItem()
		if err != nil {
			return err
		}
		if eof {
			return p.errAt(open.line, open.col, "unclosed TARGET_DRIVER block")
		}
		if done {
			cfg.Drivers = append(cfg.Drivers, drv)
			return nil
		}
		if it.kind == "TARGET" {
			name := it.name
			if !it.isBlock {
				name = cleanValue(it.seg)
			}
			if name == "" {
				return p.errAt(it.line, it.col, "TARGET requires a name")
			}
			if drv.Target(name) != nil {
				return p.errAt(it.line, it.col, "duplicate TARGET %q", name)
			}
			t := &Target{Name: name}
			if it.isBlock {
				if err := p.parseTarget(t, it); err != nil {
					return err
				}
			}
			drv.Targets = append(drv.Targets, t)
			continue
		}
		if it.isBlock {
			return p.errAt(it.line, it.col, "unexpected %s block in TARGET_DRIVER", it.kind)
		}
		if it.kind == "enabled" {
			on, err := parseEnabled(cleanValue(it.seg))
			if err != nil {
				return p.errAt(it.line, it.col, "invalid enabled value %q", cleanValue(it.seg))
			}
			drv.Enabled = on
			continue
		}
		p.setAttr(&drv.Attrs, it)
	}
}

func (p *parser) parseTarget(t *Target, open item) error {
	for {
		it, done, eof, err := p.nextItem()
		if err != nil {
			return err
		}
		if eof {
			return p.errAt(open.line, open.col, "unclosed TARGET block")
		}
		if done {
			return nil
		}
		if it.isBlock {
			if it.kind != "GROUP" {
				return p.errAt(it.line, it.col, "unexpected %s block in TARGET: GROUP expected", it.kind)
			}
			if it.name == "" {
				return p.errAt(it.line, it.col, "GROUP block requires a name")
			}
			if t.Group(it.name) != nil {
				return p.errAt(it.line, it.col, "duplicate GROUP %q", it.name)
			}
			g := &InitGroup{Name: it.name}
			if err := p.parseGroup(g, it); err != nil {
				return err
			}
			t.Groups = append(t.Groups, g)
			continue
		}
		switch it.kind {
		case "LUN":
			lun, err := p.parseLun(it, t.Luns)
			if err != nil {
				return err
			}
			t.Luns = append(t.Luns, lun)
		case "enabled":
			on, err := parseEnabled(cleanValue(it.seg))
			if err != nil {
				return p.errAt(it.line, it.col, "invalid enabled value %q", cleanValue(it.seg))
			}
			t.Enabled = on
		default:
			p.setAttr(&t.Attrs, it)
		}
	}
}

func (p *parser) parseGroup(g *InitGroup, open item) error {
	for {
		it, done, eof, err := p.nextItem()
		if err != nil {
			return err
		}
		if eof {
			return p.errAt(open.line, open.col, "unclosed GROUP block")
		}
		if done {
			return nil
		}
		if it.isBlock {
			return p.errAt(it.line, it.col, "unexpected %s block in GROUP", it.kind)
		}
		switch it.kind {
		case "LUN":
			lun, err := p.parseLun(it, g.Luns)
			if err != nil {
				return err
			}
			g.Luns = append(g.Luns, lun)
		case "INITIATOR":
			name := cleanValue(it.seg)
			if name == "" {
				return p.errAt(it.line, it.col, "INITIATOR requires a name")
			}
			for _, ini := range g.Initiators {
				if ini == name {
					return p.errAt(it.line, it.col, "duplicate INITIATOR %q", name)
				}
			}
			g.Initiators = append(g.Initiators, name)
		default:
			return p.errAt(it.line, it.col, "unexpected %q in GROUP block: LUN or INITIATOR expected", it.kind)
		}
	}
}

// parseLun parses "LUN <number> <device> [attr=val ...]".
func (p *parser) parseLun(it item, siblings []*Lun) (*Lun, error) {
	fields := strings.Fields(it.seg)
	if len(fields) < 2 {
		return nil, p.errAt(it.line, it.col, "LUN requires a number and a device name")
	}
	num, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return nil, p.errAt(it.line, it.col, "invalid LUN number %q", fields[0])
	}
	for _, l := range siblings {
		if l.Number == num {
			return nil, p.errAt(it.line, it.col, "duplicate LUN %d", num)
		}
	}
	lun := &Lun{Number: num, Device: fields[1]}
	for _, assign := range fields[2:] {
		name, value, ok := strings.Cut(assign, "=")
		if !ok || name == "" {
			return nil, p.errAt(it.line, it.col, "invalid LUN attribute %q: name=value expected", assign)
		}
		lun.Attrs.Set(name, value)
	}
	return lun, nil
}

func (p *parser) parseDeviceGroup(cfg *Config, open item) error {
	if open.name == "" {
		return p.errAt(open.line, open.col, "DEVICE_GROUP block requires a name")
	}
	if cfg.DeviceGroup(open.name) != nil {
		return p.errAt(open.line, open.col, "duplicate DEVICE_GROUP %q", open.name)
	}
	dg := &DeviceGroup{Name: open.name}
	for {
		it, done, eof, err := p.nextItem()
		if err != nil {
			return err
		}
		if eof {
			return p.errAt(open.line, open.col, "unclosed DEVICE_GROUP block")
		}
		if done {
			cfg.DeviceGroups = append(cfg.DeviceGroups, dg)
			return nil
		}
		if it.isBlock {
			if it.kind != "TARGET_GROUP" {
				return p.errAt(it.line, it.col, "unexpected %s block in DEVICE_GROUP: TARGET_GROUP expected", it.kind)
			}
			if it.name == "" {
				return p.errAt(it.line, it.col, "TARGET_GROUP block requires a name")
			}
			for _, tg := range dg.TargetGroups {
				if tg.Name == it.name {
					return p.errAt(it.line, it.col, "duplicate TARGET_GROUP %q", it.name)
				}
			}
			tg := &TargetGroup{Name: it.name}
			if err := p.parseTargetGroup(tg, it); err != nil {
				return err
			}
			dg.TargetGroups = append(dg.TargetGroups, tg)
			continue
		}
		if it.kind != "DEVICE" {
			return p.errAt(it.line, it.col, "unexpected %q in DEVICE_GROUP: DEVICE or TARGET_GROUP expected", it.kind)
		}
		name := cleanValue(it.seg)
		if name == "" {
			return p.errAt(it.line, it.col, "DEVICE requires a name")
		}
		for _, d := range dg.Devices {
			if d == name {
				return p.errAt(it.line, it.col, "duplicate DEVICE %q", name)
			}
		}
		dg.Devices = append(dg.Devices, name)
	}
}

func (p *parser) parseTargetGroup(tg *TargetGroup, open item) error {
	for {
		it, done, eof, err := p.nextItem()
		if err != nil {
			return err
		}
		if eof {
			return p.errAt(open.line, open.col, "unclosed TARGET_GROUP block")
		}
		if done {
			return nil
		}
		if it.kind != "TARGET" {
			return p.errAt(it.line, it.col, "unexpected %q in TARGET_GROUP: TARGET expected", it.kind)
		}
		name := it.name
		if !it.isBlock {
			name = cleanValue(it.seg)
		}
		if name == "" {
			return p.errAt(it.line, it.col, "TARGET requires a name")
		}
		for _, t := range tg.Targets {
			if t.Name == name {
				return p.errAt(it.line, it.col, "duplicate TARGET %q", name)
			}
		}
		t := &TGTarget{Name: name}
		if it.isBlock {
			if err := p.parseTGTarget(t, it); err != nil {
				return err
			}
		}
		tg.Targets = append(tg.Targets, t)
	}
}

func (p *parser) parseTGTarget(t *TGTarget, open item) error {
	for {
		it, done, eof, err := p.nextItem()
		if err != nil {
			return err
		}
		if eof {
			return p.errAt(open.line, open.col, "unclosed TARGET block")
		}
		if done {
			return nil
		}
		if it.isBlock {
			return p.errAt(it.line, it.col, "unexpected %s block in TARGET", it.kind)
		}
		p.setAttr(&t.Attrs, it)
	}
}

func parseEnabled(v string) (bool, error) {
	switch v {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid enabled value %q", v)
}
