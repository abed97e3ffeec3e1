package ics

import (
	"errors"
	"fmt"
	"strings"
)

// Component names the reader and normalizer care about. Everything else
// survives in the raw tree untouched.
const (
	compCalendar = "VCALENDAR"
	compEvent    = "VEVENT"
	compTimezone = "VTIMEZONE"
	compStandard = "STANDARD"
	compDaylight = "DAYLIGHT"
)

// RawProperty is a single decoded content line: a property name, its
// parameters, and the raw value. The value is kept verbatim; unescaping and
// calendar semantics belong to normalization.
type RawProperty struct {
	Name   string
	Params map[string][]string
	Value  string
}

// Param returns the first value of the named parameter, or "".
func (p *RawProperty) Param(name string) string {
	vs := p.Params[strings.ToUpper(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// RawComponent is one BEGIN/END block: its properties in input order plus any
// nested components.
type RawComponent struct {
	Name       string
	Properties []RawProperty
	Components []*RawComponent
}

// Prop returns the first property with the given name, or nil.
func (c *RawComponent) Prop(name string) *RawProperty {
	name = strings.ToUpper(name)
	for i := range c.Properties {
		if c.Properties[i].Name == name {
			return &c.Properties[i]
		}
	}
	return nil
}

// Props returns all properties with the given name, in input order.
func (c *RawComponent) Props(name string) []*RawProperty {
	name = strings.ToUpper(name)
	var out []*RawProperty
	for i := range c.Properties {
		if c.Properties[i].Name == name {
			out = append(out, &c.Properties[i])
		}
	}
	return out
}

// Sub returns all nested components with the given name, in input order.
func (c *RawComponent) Sub(name string) []*RawComponent {
	name = strings.ToUpper(name)
	var out []*RawComponent
	for _, sub := range c.Components {
		if sub.Name == name {
			out = append(out, sub)
		}
	}
	return out
}

// unfold normalizes line endings and joins folded continuation lines.
func unfold(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\n ", "")
	return strings.ReplaceAll(text, "\n\t", "")
}

// reader consumes the token stream and builds the raw component tree.
type reader struct {
	lex       *lexer
	token     [2]item
	peekCount int
	strict    bool
	warnings  []Warning
}

// ReadCalendar decodes raw iCalendar text into the VCALENDAR component tree.
//
// In strict mode any structural violation fails the whole read. Otherwise a
// violation inside a component drops the enclosing block under VCALENDAR,
// records a warning, and reading continues with the next block. Violations at
// the document level (no BEGIN:VCALENDAR, an unterminated calendar, garbage
// at calendar scope) fail the read in both modes.
func ReadCalendar(text string, strict bool) (*RawComponent, []Warning, error) {
	r := &reader{lex: lex(unfold(text)), strict: strict}
	defer r.lex.drain()

	root, err := r.read()
	if err != nil {
		return nil, nil, err
	}
	return root, r.warnings, nil
}

// next returns the next token.
func (r *reader) next() item {
	if r.peekCount > 0 {
		r.peekCount--
	} else {
		r.token[0] = r.lex.nextItem()
	}
	return r.token[r.peekCount]
}

// backup backs the input stream up one token.
func (r *reader) backup() {
	r.peekCount++
}

// peek returns but does not consume the next token.
func (r *reader) peek() item {
	if r.peekCount > 0 {
		return r.token[r.peekCount-1]
	}
	r.peekCount = 1
	r.token[0] = r.lex.nextItem()
	return r.token[0]
}

func (r *reader) read() (*RawComponent, error) {
	first := r.next()
	if first.typ != itemBegin || !strings.EqualFold(first.val, compCalendar) {
		return nil, &MalformedInputError{Line: first.line, Msg: fmt.Sprintf("expected BEGIN:VCALENDAR, got %s", first)}
	}
	if err := r.lineTail("BEGIN:" + compCalendar); err != nil {
		return nil, err
	}

	root := &RawComponent{Name: compCalendar}
	stack := []*RawComponent{root}

	for {
		it := r.next()
		switch it.typ {
		case itemError:
			if err := r.recover(&stack, it.line, it.val); err != nil {
				return nil, err
			}

		case itemEOF:
			return nil, &MalformedInputError{Line: it.line, Msg: "unterminated " + stack[len(stack)-1].Name}

		case itemBegin:
			stack = append(stack, &RawComponent{Name: strings.ToUpper(it.val)})
			if err := r.lineTail("BEGIN:" + it.val); err != nil {
				return nil, err
			}

		case itemEnd:
			name := strings.ToUpper(it.val)
			if stack[len(stack)-1].Name != name {
				var err error
				if stack, err = r.closeMismatched(stack, name, it.line); err != nil {
					return nil, err
				}
				if len(stack) == 0 || stack[len(stack)-1].Name != name {
					continue
				}
			}
			top := stack[len(stack)-1]
			if err := r.lineTail("END:" + name); err != nil {
				return nil, err
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return root, r.checkTrailing()
			}
			parent := stack[len(stack)-1]
			parent.Components = append(parent.Components, top)

		case itemName:
			prop, err := r.scanProperty(it)
			if err != nil {
				line, msg := it.line, err.Error()
				var merr *MalformedInputError
				if errors.As(err, &merr) {
					line, msg = merr.Line, merr.Msg
				}
				if rerr := r.recover(&stack, line, msg); rerr != nil {
					return nil, rerr
				}
				continue
			}
			top := stack[len(stack)-1]
			top.Properties = append(top.Properties, prop)

		case itemLineEnd:
			// stray terminator, nothing to attach

		default:
			if err := r.recover(&stack, it.line, fmt.Sprintf("unexpected %s", it)); err != nil {
				return nil, err
			}
		}
	}
}

// closeMismatched handles an END whose name does not match the innermost open
// component. When the END closes a component deeper in the stack, the
// unterminated levels above it are dropped (lenient) and the matching level
// is left on top for the caller to close normally. A stray END inside a
// component skips the enclosing block; at calendar scope it is fatal.
func (r *reader) closeMismatched(stack []*RawComponent, name string, line int) ([]*RawComponent, error) {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].Name != name {
			continue
		}
		if r.strict {
			return nil, &MalformedInputError{Line: line, Msg: fmt.Sprintf("END:%s with %s still open", name, stack[len(stack)-1].Name)}
		}
		for _, open := range stack[i+1:] {
			r.warnings = append(r.warnings, Warning{
				Kind: WarnSkippedComponent,
				Msg:  fmt.Sprintf("dropped unterminated %s block at line %d", open.Name, line),
			})
		}
		return stack[:i+1], nil
	}
	// Never opened at all.
	if err := r.recover(&stack, line, fmt.Sprintf("END:%s without matching BEGIN", name)); err != nil {
		return nil, err
	}
	return stack, nil
}

// recover implements the lenient skip: the innermost open component under the
// calendar is abandoned and input is consumed through the end of its block.
// At calendar scope there is nothing to skip, so the error is fatal in both
// modes.
func (r *reader) recover(stack *[]*RawComponent, line int, msg string) error {
	if r.strict {
		return &MalformedInputError{Line: line, Msg: msg}
	}
	s := *stack
	if len(s) <= 1 {
		return &MalformedInputError{Line: line, Msg: msg}
	}
	dropped := s[1]
	r.warnings = append(r.warnings, Warning{
		Kind: WarnSkippedComponent,
		Msg:  fmt.Sprintf("skipped malformed %s block: %s (line %d)", dropped.Name, msg, line),
	})
	depth := len(s) - 1
	*stack = s[:1]
	return r.skip(depth)
}

// skip consumes tokens until depth component blocks have closed, tolerating
// further lexical errors inside the skipped region.
func (r *reader) skip(depth int) error {
	for depth > 0 {
		it := r.next()
		switch it.typ {
		case itemEOF:
			return &MalformedInputError{Line: it.line, Msg: "unexpected end of input while skipping malformed block"}
		case itemBegin:
			depth++
		case itemEnd:
			depth--
		}
	}
	return r.endOfLine()
}

// scanProperty decodes one content line into a RawProperty. The leading name
// token has already been consumed.
func (r *reader) scanProperty(name item) (RawProperty, error) {
	prop := RawProperty{Name: strings.ToUpper(name.val)}
	for {
		it := r.next()
		switch it.typ {
		case itemSemiColon:
			if err := r.scanParam(&prop); err != nil {
				return prop, err
			}
		case itemColon:
			val := r.next()
			if val.typ != itemValue {
				return prop, &MalformedInputError{Line: val.line, Msg: fmt.Sprintf("found %s, expected a value", val)}
			}
			prop.Value = val.val
			return prop, r.endOfLine()
		case itemError:
			return prop, &MalformedInputError{Line: it.line, Msg: it.val}
		default:
			return prop, &MalformedInputError{Line: it.line, Msg: fmt.Sprintf("found %s, expected \";\" or \":\"", it)}
		}
	}
}

// scanParam decodes one ";name=value[,value...]" parameter into the property.
func (r *reader) scanParam(prop *RawProperty) error {
	name := r.next()
	if name.typ == itemError {
		return &MalformedInputError{Line: name.line, Msg: name.val}
	}
	if name.typ != itemParamName {
		return &MalformedInputError{Line: name.line, Msg: fmt.Sprintf("found %s, expected a parameter name", name)}
	}
	key := strings.ToUpper(name.val)

	eq := r.next()
	if eq.typ == itemError {
		return &MalformedInputError{Line: eq.line, Msg: eq.val}
	}
	if eq.typ != itemEqual {
		return &MalformedInputError{Line: eq.line, Msg: fmt.Sprintf("found %s, expected \"=\"", eq)}
	}

	for {
		v := r.next()
		if v.typ == itemError {
			return &MalformedInputError{Line: v.line, Msg: v.val}
		}
		if v.typ != itemParamValue {
			return &MalformedInputError{Line: v.line, Msg: fmt.Sprintf("found %s, expected a parameter value", v)}
		}
		if prop.Params == nil {
			prop.Params = make(map[string][]string)
		}
		prop.Params[key] = append(prop.Params[key], v.val)

		if r.peek().typ != itemComma {
			return nil
		}
		r.next()
	}
}

// lineTail consumes the terminator of a structurally complete delimiter line.
// Trailing junk on such a line fails a strict read but is only worth a
// warning otherwise, since the delimiter itself already parsed.
func (r *reader) lineTail(what string) error {
	err := r.endOfLine()
	if err == nil || r.strict {
		return err
	}
	r.warnings = append(r.warnings, Warning{
		Kind: WarnSkippedComponent,
		Msg:  fmt.Sprintf("ignored trailing characters after %s", what),
	})
	return nil
}

// endOfLine consumes the line terminator. End of input is accepted in its
// place so a payload without a final newline still closes cleanly.
func (r *reader) endOfLine() error {
	it := r.next()
	switch it.typ {
	case itemLineEnd:
		return nil
	case itemEOF:
		r.backup()
		return nil
	case itemError:
		return &MalformedInputError{Line: it.line, Msg: it.val}
	default:
		return &MalformedInputError{Line: it.line, Msg: fmt.Sprintf("found %s, expected end of line", it)}
	}
}

// checkTrailing verifies nothing but whitespace follows END:VCALENDAR.
func (r *reader) checkTrailing() error {
	it := r.next()
	if it.typ == itemEOF {
		return nil
	}
	if r.strict {
		return &MalformedInputError{Line: it.line, Msg: "content after END:VCALENDAR"}
	}
	r.warnings = append(r.warnings, Warning{
		Kind: WarnSkippedComponent,
		Msg:  fmt.Sprintf("ignored content after END:VCALENDAR (line %d)", it.line),
	})
	return nil
}
