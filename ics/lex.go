package ics

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// item represents a token returned from the scanner.
type item struct {
	typ  itemType // the type of this item
	pos  int      // starting position, in bytes, of this item in the input
	line int      // logical line after unfolding, 1-based
	val  string   // the value of this item
}

func (i item) String() string {
	switch {
	case i.typ == itemEOF:
		return "EOF"
	case i.typ == itemError:
		return i.val
	case i.typ == itemBegin:
		return "BEGIN:" + i.val
	case i.typ == itemEnd:
		return "END:" + i.val
	case len(i.val) > 10:
		return fmt.Sprintf("%.10q...", i.val)
	}
	return fmt.Sprintf("%q", i.val)
}

// itemType identifies the type of lex items.
type itemType int

const (
	// special tokens
	itemError itemType = iota
	itemEOF
	itemLineEnd

	// literals
	itemName
	itemParamName
	itemParamValue
	itemValue

	// separators
	itemColon     // :
	itemSemiColon // ;
	itemEqual     // =
	itemComma     // ,

	// component delimiters; val carries the component name
	itemBegin
	itemEnd
)

const eof = -1

const (
	keywordBegin = "BEGIN"
	keywordEnd   = "END"
)

// stateFn represents the state of the scanner as a function that returns the
// next state.
type stateFn func(*lexer) stateFn

// lexer holds the state of the scanner. The input must already be unfolded
// and use "\n" line terminators.
type lexer struct {
	input string    // the string being scanned
	state stateFn   // the next lexing function to enter
	start int       // start position of this item
	pos   int       // current position in the input
	width int       // width of last rune read from input
	line  int       // current logical line
	items chan item // channel of scanned items
}

// lex creates a new scanner for the input string.
func lex(input string) *lexer {
	l := &lexer{
		input: input,
		line:  1,
		items: make(chan item),
	}
	go l.run()
	return l
}

// run runs the state machine for the lexer.
func (l *lexer) run() {
	for l.state = lexName; l.state != nil; {
		l.state = l.state(l)
	}
	close(l.items)
}

// emit passes an item back to the client.
func (l *lexer) emit(t itemType) {
	l.items <- item{t, l.start, l.line, l.input[l.start:l.pos]}
	l.start = l.pos
}

// ignore skips over the pending input before this point.
func (l *lexer) ignore() {
	l.start = l.pos
}

// next returns the next rune in the input.
func (l *lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return eof
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += l.width
	return r
}

// peek returns but does not consume the next rune in the input.
func (l *lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

// backup steps back one rune. Can only be called once per call of next.
func (l *lexer) backup() {
	l.pos -= l.width
}

// errorf emits an error item and resynchronizes at the next line boundary so
// scanning can continue. The reader decides whether the error is fatal.
func (l *lexer) errorf(format string, args ...any) stateFn {
	l.items <- item{itemError, l.start, l.line, fmt.Sprintf(format, args...)}
	return lexSkipLine
}

// nextItem returns the next item from the input.
// Called by the reader, not in the lexing goroutine.
func (l *lexer) nextItem() item {
	return <-l.items
}

// drain runs the channel dry so the lexing goroutine can exit even when the
// reader stops early.
func (l *lexer) drain() {
	for range l.items {
	}
}

// State functions

// lexName scans the name at the start of a content line. BEGIN and END lines
// become component delimiter items carrying the component name. Blank lines
// are skipped.
func lexName(l *lexer) stateFn {
	for l.peek() == '\n' {
		l.next()
		l.ignore()
		l.line++
	}
	if l.peek() == eof {
		l.emit(itemEOF)
		return nil
	}

	for {
		r := l.next()
		if !isName(r) {
			l.backup()
			break
		}
	}
	word := l.input[l.start:l.pos]
	if word == "" {
		return l.errorf("unrecognized character at start of content line: %#U", l.peek())
	}

	if (strings.EqualFold(word, keywordBegin) || strings.EqualFold(word, keywordEnd)) && l.peek() == ':' {
		typ := itemBegin
		if strings.EqualFold(word, keywordEnd) {
			typ = itemEnd
		}
		l.next()
		l.ignore() // drop the BEGIN: / END: prefix
		for {
			r := l.next()
			if !isName(r) {
				l.backup()
				break
			}
		}
		if l.pos == l.start {
			return l.errorf("missing component name after %s:", word)
		}
		l.emit(typ)
		return lexNewLine
	}

	l.emit(itemName)
	return lexContentLine
}

// lexContentLine dispatches on the separator that follows a name or a
// parameter value.
func lexContentLine(l *lexer) stateFn {
	switch r := l.next(); {
	case r == ';':
		l.emit(itemSemiColon)
		return lexParamName
	case r == ':':
		l.emit(itemColon)
		return lexValue
	case r == ',':
		l.emit(itemComma)
		return lexParamValue
	case r == eof:
		return l.errorf("unexpected end of input in content line")
	default:
		return l.errorf("unrecognized character in content line: %#U", r)
	}
}

// lexNewLine scans the line terminator.
func lexNewLine(l *lexer) stateFn {
	r := l.next()
	if r == eof {
		l.backup()
		l.emit(itemEOF)
		return nil
	}
	if r != '\n' {
		return l.errorf("expected end of line, got %#U", r)
	}
	l.emit(itemLineEnd)
	l.line++
	return lexName
}

// lexSkipLine consumes the remainder of the current line after an error so
// the next content line can be scanned cleanly.
func lexSkipLine(l *lexer) stateFn {
	for {
		r := l.next()
		if r == eof || r == '\n' {
			l.backup()
			l.ignore()
			return lexNewLine
		}
	}
}

// lexParamName scans a parameter name and its "=" separator.
//
// param-name = iana-token / x-name
func lexParamName(l *lexer) stateFn {
	for {
		r := l.next()
		if !isName(r) {
			l.backup()
			break
		}
	}
	if l.pos == l.start {
		return l.errorf("missing parameter name after \";\"")
	}
	l.emit(itemParamName)

	if r := l.next(); r != '=' {
		return l.errorf("missing \"=\" after parameter name, got %#U", r)
	}
	l.emit(itemEqual)
	return lexParamValue
}

// lexParamValue scans one parameter value, quoted or bare.
//
// param-value   = paramtext / quoted-string
// paramtext     = *SAFE-CHAR
// quoted-string = DQUOTE *QSAFE-CHAR DQUOTE
func lexParamValue(l *lexer) stateFn {
	if l.peek() == '"' {
		l.next()
		l.ignore()
		for {
			r := l.next()
			if !isQSafeChar(r) {
				l.backup()
				break
			}
		}
		l.emit(itemParamValue)
		if r := l.next(); r != '"' {
			return l.errorf("unterminated quoted parameter value")
		}
		l.ignore()
		return lexContentLine
	}

	for {
		r := l.next()
		if !isSafeChar(r) {
			l.backup()
			break
		}
	}
	l.emit(itemParamValue)
	return lexContentLine
}

// lexValue scans the value part of a content line through to the terminator.
//
// value      = *VALUE-CHAR
// VALUE-CHAR = WSP / %x21-7E / NON-US-ASCII
func lexValue(l *lexer) stateFn {
	for {
		r := l.next()
		if r == '\t' || unicode.IsGraphic(r) {
			continue
		}
		l.backup()
		break
	}
	l.emit(itemValue)
	return lexNewLine
}

// rune helpers

func isName(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-'
}

func isQSafeChar(r rune) bool {
	return r != eof && !unicode.IsControl(r) && r != '"'
}

func isSafeChar(r rune) bool {
	return r != eof && !unicode.IsControl(r) && r != '"' && r != ';' && r != ':' && r != ','
}
