package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name        string
		body        []byte
		contentType string
		want        string
	}{
		{
			"plain utf-8",
			[]byte("SUMMARY:Tea at noon"),
			"text/calendar; charset=utf-8",
			"SUMMARY:Tea at noon",
		},
		{
			"bom stripped",
			[]byte("\xEF\xBB\xBFBEGIN:VCALENDAR"),
			"",
			"BEGIN:VCALENDAR",
		},
		{
			"latin-1",
			[]byte("SUMMARY:Caf\xe9"),
			"text/calendar; charset=ISO-8859-1",
			"SUMMARY:Café",
		},
		{
			"windows-1252 curly quotes",
			[]byte("SUMMARY:\x93quoted\x94"),
			"text/calendar; charset=windows-1252",
			"SUMMARY:“quoted”",
		},
		{
			"unknown charset passes through",
			[]byte("SUMMARY:as-is"),
			"text/calendar; charset=klingon",
			"SUMMARY:as-is",
		},
		{
			"unparsable content type passes through",
			[]byte("SUMMARY:as-is"),
			"not a media type //",
			"SUMMARY:as-is",
		},
		{
			"no content type",
			[]byte("SUMMARY:as-is"),
			"",
			"SUMMARY:as-is",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.body, tc.contentType)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}
