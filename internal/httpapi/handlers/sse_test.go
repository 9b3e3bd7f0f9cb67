package handlers

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteEvent(t *testing.T) {
	cases := []struct {
		name  string
		event string
		data  string
		want  string
	}{
		{"plain", "", "Hello", "data: Hello\n\n"},
		{"leading space", "", " world", "data:  world\n\n"},
		{"empty", "", "", "data: \n\n"},
		{"newline", "", "a\nb", "data: a\ndata: b\n\n"},
		{"carriage return", "", "a\rb", "data: a\ndata: b\n\n"},
		{"crlf", "", "a\r\nb", "data: a\ndata: b\n\n"},
		{"named", "ping", "1700000000", "event: ping\ndata: 1700000000\n\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeEvent(&buf, tc.event, tc.data))
			require.Equal(t, tc.want, buf.String())
		})
	}
}
