package secret

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// ExpandEnvStrict expands $VAR and ${VAR} in s from the process
// environment. "$$" yields a literal "$". A braced ${VAR} that is unset is
// an error; a bare $VAR that is unset expands to "".
func ExpandEnvStrict(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var missing []string
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch next := s[i+1]; {
		case next == '$':
			b.WriteByte('$')
			i++
		case next == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteString(s[i:])
				i = len(s)
				continue
			}
			name := s[i+2 : i+2+end]
			v, ok := os.LookupEnv(name)
			if !ok && isEnvName(name) {
				missing = append(missing, name)
			}
			b.WriteString(v)
			i += end + 2
		default:
			n := envNameLen(s[i+1:])
			if n == 0 {
				b.WriteByte('$')
				continue
			}
			b.WriteString(os.Getenv(s[i+1 : i+1+n]))
			i += n
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("secret: missing environment variables: %s",
			strings.Join(slices.Compact(missing), ", "))
	}
	return b.String(), nil
}

func envNameLen(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return i
	}
	return len(s)
}

func isEnvName(s string) bool {
	return s != "" && envNameLen(s) == len(s)
}
