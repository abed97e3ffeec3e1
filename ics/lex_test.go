package ics

import "testing"

func collectItems(input string) []item {
	l := lex(input)
	var items []item
	for {
		it := l.nextItem()
		items = append(items, it)
		if it.typ == itemEOF {
			return items
		}
	}
}

func TestLex(t *testing.T) {
	input := "BEGIN:VCALENDAR\nX-TEST;P=\"a:b\";Q=1,2:value here\nEND:VCALENDAR"
	want := []struct {
		typ itemType
		val string
	}{
		{itemBegin, "VCALENDAR"},
		{itemLineEnd, "\n"},
		{itemName, "X-TEST"},
		{itemSemiColon, ";"},
		{itemParamName, "P"},
		{itemEqual, "="},
		{itemParamValue, "a:b"},
		{itemSemiColon, ";"},
		{itemParamName, "Q"},
		{itemEqual, "="},
		{itemParamValue, "1"},
		{itemComma, ","},
		{itemParamValue, "2"},
		{itemColon, ":"},
		{itemValue, "value here"},
		{itemLineEnd, "\n"},
		{itemEnd, "VCALENDAR"},
		{itemEOF, ""},
	}

	items := collectItems(input)
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d: %v", len(items), len(want), items)
	}
	for i, w := range want {
		if items[i].typ != w.typ || items[i].val != w.val {
			t.Errorf("item %d = (%d, %q), want (%d, %q)", i, items[i].typ, items[i].val, w.typ, w.val)
		}
	}
}

func TestLex_ErrorResync(t *testing.T) {
	// A line starting with a non-name rune is reported once and skipped; the
	// following line must still scan.
	input := "BEGIN:VCALENDAR\n\x01garbage\nUID:ok\nEND:VCALENDAR"
	items := collectItems(input)

	errs := 0
	sawUID := false
	for _, it := range items {
		if it.typ == itemError {
			errs++
		}
		if it.typ == itemName && it.val == "UID" {
			sawUID = true
		}
	}
	if errs != 1 {
		t.Errorf("got %d error items, want 1", errs)
	}
	if !sawUID {
		t.Error("scanner did not resume at the next content line")
	}
}

func TestLex_LineNumbers(t *testing.T) {
	input := "BEGIN:VCALENDAR\nUID:a\nSUMMARY:b\nEND:VCALENDAR"
	for _, it := range collectItems(input) {
		if it.typ == itemName && it.val == "SUMMARY" && it.line != 3 {
			t.Errorf("SUMMARY on line %d, want 3", it.line)
		}
	}
}

func TestLex_UnterminatedQuote(t *testing.T) {
	input := "BEGIN:VCALENDAR\nX;P=\"open:v\nEND:VCALENDAR"
	found := false
	for _, it := range collectItems(input) {
		if it.typ == itemError {
			found = true
		}
	}
	if !found {
		t.Error("expected an error item for the unterminated quote")
	}
}
