package unit

import "strings"

// Specifiers carries the load-time substitution context for a unit
// (spec.md §4.1): %i/%I the instance, %n/%N the full/stem name, %H the
// hostname, %U/%u the uid/user, %h the home directory.
type Specifiers struct {
	Instance    string // %i, escaped form
	InstanceRaw string // %I, unescaped form
	FullName    string // %n
	Stem        string // %N
	Hostname    string // %H
	UID         string // %U
	User        string // %u
	Home        string // %h
}

// Expand substitutes every recognized %X specifier in s. Unknown
// specifiers are left untouched (systemd itself errors; this core is
// lenient since the wire encoding of that error is out of scope).
func (sp Specifiers) Expand(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' || i+1 >= len(runes) {
			b.WriteRune(runes[i])
			continue
		}
		i++
		switch runes[i] {
		case 'i':
			b.WriteString(sp.Instance)
		case 'I':
			b.WriteString(sp.InstanceRaw)
		case 'n':
			b.WriteString(sp.FullName)
		case 'N':
			b.WriteString(sp.Stem)
		case 'H':
			b.WriteString(sp.Hostname)
		case 'U':
			b.WriteString(sp.UID)
		case 'u':
			b.WriteString(sp.User)
		case 'h':
			b.WriteString(sp.Home)
		case '%':
			b.WriteRune('%')
		default:
			b.WriteRune('%')
			b.WriteRune(runes[i])
		}
	}
	return b.String()
}

// EscapeInstance implements the systemd-escape subset needed for %i:
// '/' becomes '-', and each byte of a disallowed character is written
// as a "\xNN" hex escape.
// This is also used when deriving an instance name from user input.
func EscapeInstance(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r == '/':
			b.WriteByte('-')
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			for _, bb := range []byte(string(r)) {
				b.WriteString("\\x")
				const hex = "0123456789abcdef"
				b.WriteByte(hex[bb>>4])
				b.WriteByte(hex[bb&0xf])
			}
		}
	}
	return b.String()
}
