package profile

import (
	"fmt"
	"strings"
)

// strptimeLayouts maps strptime directives to Go layout elements. Month, day
// and hour use the non-padded forms, which still accept two digits when
// parsing, so "2/5/2026" and "02/05/2026" both match "%m/%d/%Y".
var strptimeLayouts = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'e': "_2",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'H': "15",
	'I': "3",
	'M': "04",
	'S': "05",
	'p': "PM",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// TranslateDateFormat converts a strptime-style format ("%m/%d/%Y") to a Go
// layout. A format without '%' is taken to already be a Go layout.
func TranslateDateFormat(format string) (string, error) {
	if !strings.Contains(format, "%") {
		return format, nil
	}

	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", fmt.Errorf("dangling %% at end of %q", format)
		}
		i++
		elem, ok := strptimeLayouts[format[i]]
		if !ok {
			return "", fmt.Errorf("unsupported directive %%%c in %q", format[i], format)
		}
		b.WriteString(elem)
	}
	return b.String(), nil
}
