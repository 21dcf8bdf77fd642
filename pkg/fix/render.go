package fix

import (
	"fmt"
	"strings"
)

// Render returns a bordered multi-line listing of every field (name, tag,
// value) for diagnostics. The border is sized to the widest line.
func (m *Message) Render() string {
	lines := make([]string, 0, len(m.fields))
	width := 0
	for _, f := range m.fields {
		val := f.Value
		if f.Enum != "" {
			val = fmt.Sprintf("%s (%s)", f.Value, f.Enum)
		}
		line := fmt.Sprintf("%s (%d): %s", f.Name, f.Tag, val)
		if f.Tag == 0 && f.Name != "" {
			line = fmt.Sprintf("%s (?): %s", f.Name, val)
		}
		if len(line) > width {
			width = len(line)
		}
		lines = append(lines, line)
	}

	border := strings.Repeat("-", width)
	var b strings.Builder
	b.WriteString(border)
	b.WriteByte('\n')
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(border)
	return b.String()
}
