package template

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// ErrNoMovements is returned when a template segments the input without producing a movement.
var ErrNoMovements = errors.New("template produced no movements")

// ErrUnreadRecord is returned when a table row cannot be read and no later
// section accepts it. The template would otherwise yield a truncated statement.
var ErrUnreadRecord = errors.New("record not readable by any section")

type mode int

const (
	modeNone mode = iota // between sections; the next line enters the following section
	modeIgnore
	modeKeyValue
	modeTable
	modeDynamicTable
	modeDone // all sections consumed; remaining lines are skipped unless the last one aborted
)

// parser is the per-attempt state of one template run.
type parser struct {
	tpl     *Template
	idx     int // current section, -1 before the first
	mode    mode
	seen    int // lines consumed by the current section
	header  model.Header
	columns []int // table-with-header: field index -> column, -1 when absent
	needHdr bool
	pending *record // regex tables hold the last record until its boundary is known
	aborted bool    // the last section closed on a record it could not read
	out     []model.Movement
}

func newParser(t *Template) *parser {
	return &parser{tpl: t, idx: -1}
}

// Parse runs the template over lines.
func (t *Template) Parse(lines []string) (*model.ParseResult, error) {
	p := newParser(t)
	for n, line := range lines {
		if err := p.feed(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
	}
	p.finish()
	if len(p.out) == 0 {
		return nil, ErrNoMovements
	}
	return &model.ParseResult{Header: p.header, Movements: p.out}, nil
}

func (p *parser) section() *Section {
	return p.tpl.Sections[p.idx]
}

// feed dispatches one line. A section that closes without consuming the line
// hands it to the next section; the loop runs until some state consumes it.
func (p *parser) feed(line string) error {
	line = strings.TrimRight(line, "\r")
	for consumed := false; !consumed; {
		switch p.mode {
		case modeNone:
			p.enterNext()
		case modeDone:
			if p.aborted {
				return ErrUnreadRecord
			}
			consumed = true
		case modeIgnore:
			consumed = p.ignoreLine(line)
		case modeKeyValue:
			consumed = p.keyValueLine(line)
		case modeTable:
			consumed = p.tableLine(line)
		case modeDynamicTable:
			consumed = p.dynamicLine(line)
		default:
			return fmt.Errorf("invalid parser mode %d", p.mode)
		}
	}
	return nil
}

func (p *parser) enterNext() {
	p.idx++
	p.seen = 0
	p.columns = nil
	p.pending = nil
	if p.idx >= len(p.tpl.Sections) {
		p.mode = modeDone
		return
	}
	p.aborted = false
	s := p.section()
	switch s.Type {
	case SectionIgnore:
		p.mode = modeIgnore
	case SectionKeyValue:
		p.mode = modeKeyValue
	case SectionDynamicTable:
		p.mode = modeDynamicTable
	default:
		p.mode = modeTable
		p.needHdr = s.ContainsHeader
	}
}

// closeSection ends the current section. Held table records are emitted first.
func (p *parser) closeSection() {
	p.flushPending()
	p.mode = modeNone
}

// abortSection closes a table on a line it could not read. The line is
// offered to the next section; with none left the template fails.
func (p *parser) abortSection() {
	p.closeSection()
	p.aborted = true
}

func (p *parser) finish() {
	if p.mode == modeTable {
		p.closeSection()
	}
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// blankCloses reports whether a blank line ends the current section. Leading
// blank lines of a section are skipped instead.
func (p *parser) blankCloses() bool {
	return p.seen > 0
}

func (p *parser) ignoreLine(line string) bool {
	s := p.section()
	if s.isEnd(line) {
		p.closeSection()
		return false
	}
	if isBlank(line) && !s.SpanBlankLines && p.blankCloses() {
		p.closeSection()
		return true
	}
	p.seen++
	return true
}

func (p *parser) keyValueLine(line string) bool {
	s := p.section()
	if s.isEnd(line) {
		p.closeSection()
		return false
	}
	if isBlank(line) {
		if p.blankCloses() {
			p.closeSection()
		}
		return true
	}
	p.seen++

	parts := strings.SplitN(line, s.Separator, 3)
	if len(parts) < 2 {
		return true
	}
	key := unquote(parts[0])
	value := p.tpl.replace(unquote(parts[1]))
	for _, k := range s.Keys {
		if !strings.EqualFold(key, k.Name) {
			continue
		}
		var dst *string
		if k.Variable == VarAccountNumber {
			dst = &p.header.AccountNumber
		} else {
			dst = &p.header.Description
		}
		if k.Mode == ModeOnlyWhenEmpty && *dst != "" {
			continue
		}
		*dst = value
	}
	return true
}

func (p *parser) tableLine(line string) bool {
	s := p.section()
	if isBlank(line) {
		if p.blankCloses() {
			p.closeSection()
		}
		return true
	}
	if s.isEnd(line) {
		p.closeSection()
		return false
	}
	if s.isIgnored(line) {
		p.seen++
		return true
	}
	if p.needHdr {
		if !p.readHeader(line) {
			// Header of another export: abort the table and let the next section try.
			p.closeSection()
			return false
		}
		p.needHdr = false
		p.seen++
		return true
	}
	if len(s.Regexps) > 0 {
		return p.regexLine(line)
	}

	rec, err := p.fieldRecord(line)
	if err != nil {
		p.abortSection()
		return false
	}
	p.seen++
	p.emit(rec)
	return true
}

func (p *parser) dynamicLine(line string) bool {
	s := p.section()
	if isBlank(line) {
		if p.blankCloses() {
			p.closeSection()
		}
		return true
	}
	if s.isEnd(line) {
		p.closeSection()
		return false
	}
	p.seen++
	if s.isIgnored(line) {
		return true
	}
	// Length mismatches and format errors drop the line silently.
	if rec, err := p.fieldRecord(line); err == nil {
		p.emit(rec)
	}
	return true
}

// regexLine handles named-regex tables with one record of look-ahead: a
// primary match completes the held record, additional matches extend it.
func (p *parser) regexLine(line string) bool {
	s := p.section()
	for i := range s.Regexps {
		rx := &s.Regexps[i]
		m := rx.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if rx.Type == RegexpAdditional {
			if p.pending != nil {
				// Continuation text never aborts a record.
				_ = p.applyGroups(p.pending, rx, m)
			}
			p.seen++
			return true
		}
		rec := &record{}
		if err := p.applyGroups(rec, rx, m); err != nil || rec.m.BookingDate.IsZero() {
			p.abortSection()
			return false
		}
		p.flushPending()
		p.pending = rec
		p.seen++
		return true
	}
	// Lines between records (page headers, continuation noise) are skipped.
	p.seen++
	return true
}

func (p *parser) applyGroups(rec *record, rx *Regexp, m []string) error {
	mult := multiplier(rx.Multiplier)
	for gi, name := range rx.re.SubexpNames() {
		if gi == 0 || name == "" {
			continue
		}
		if err := p.tpl.assign(rec, name, m[gi], mult); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) flushPending() {
	if p.pending == nil {
		return
	}
	rec := p.pending
	p.pending = nil
	p.emit(rec)
}

func (p *parser) emit(rec *record) {
	if rec.unset() {
		return
	}
	if rec.accountNumber != "" && p.header.AccountNumber == "" {
		p.header.AccountNumber = rec.accountNumber
	}
	if rec.m.CurrencyCode == "" {
		rec.m.CurrencyCode = p.tpl.DefaultCurrency
	}
	p.out = append(p.out, rec.m)
}

func (p *parser) split(line string) ([]string, error) {
	sep := p.section().FieldSeparator
	if utf8.RuneCountInString(sep) == 1 {
		r := csv.NewReader(strings.NewReader(line))
		r.Comma, _ = utf8.DecodeRuneInString(sep)
		r.LazyQuotes = true
		r.FieldsPerRecord = -1
		fields, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("splitting line: %w", err)
		}
		return fields, nil
	}
	return strings.Split(line, sep), nil
}

func (p *parser) readHeader(line string) bool {
	s := p.section()
	cols, err := p.split(line)
	if err != nil {
		return false
	}
	taken := make([]bool, len(cols))
	p.columns = make([]int, len(s.Fields))
	for fi, f := range s.Fields {
		p.columns[fi] = -1
		for ci, c := range cols {
			if !taken[ci] && strings.EqualFold(unquote(c), f.Name) {
				p.columns[fi] = ci
				taken[ci] = true
				break
			}
		}
		if p.columns[fi] < 0 && !f.Optional {
			return false
		}
	}
	return true
}

// fieldRecord builds a record from one separated or fixed-length line.
func (p *parser) fieldRecord(line string) (*record, error) {
	s := p.section()
	values, err := p.fieldValues(line)
	if err != nil {
		return nil, err
	}
	rec := &record{}
	for fi, f := range s.Fields {
		v := values[fi]
		if f.previewRe != nil && f.previewRe.MatchString(v) {
			rec.m.IsPreview = true
		}
		if err := p.tpl.assign(rec, f.Variable, v, multiplier(f.Multiplier)); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	if !rec.unset() && rec.m.BookingDate.IsZero() {
		return nil, errors.New("record without booking date")
	}
	return rec, nil
}

// fieldValues returns one raw value per declared field.
func (p *parser) fieldValues(line string) ([]string, error) {
	s := p.section()
	values := make([]string, len(s.Fields))

	if s.FieldSeparator == SeparatorNone {
		rest := []rune(line)
		for fi, f := range s.Fields {
			if f.Length <= 0 {
				values[fi] = string(rest)
				rest = nil
				continue
			}
			if len(rest) < f.Length {
				if f.Optional {
					values[fi] = string(rest)
					rest = nil
					continue
				}
				return nil, fmt.Errorf("line too short for field %s", f.Name)
			}
			values[fi] = string(rest[:f.Length])
			rest = rest[f.Length:]
		}
		return values, nil
	}

	cols, err := p.split(line)
	if err != nil {
		return nil, err
	}
	for fi, f := range s.Fields {
		ci := fi
		if p.columns != nil {
			ci = p.columns[fi]
		}
		if ci < 0 {
			continue
		}
		if ci >= len(cols) {
			if f.Optional {
				continue
			}
			return nil, fmt.Errorf("missing column %d for field %s", ci, f.Name)
		}
		values[fi] = unquote(cols[ci])
	}
	return values, nil
}
