package eval

import (
	"fmt"
	"strings"
	"unicode"
)

// Validate rejects anything beyond comparisons and boolean logic. String
// literals are exempt from the character checks.
func Validate(cond string) error {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return nil
	}

	code, err := stripStringLiterals(cond)
	if err != nil {
		return err
	}

	illegalChars := []rune{'{', '}', '[', ']', ';', ':', '?', '@', '#', '$', '\\'}
	for _, ch := range illegalChars {
		if strings.ContainsRune(code, ch) {
			return fmt.Errorf("illegal character %q", ch)
		}
	}

	if strings.Contains(code, "..") || strings.Contains(code, "?.") {
		return fmt.Errorf("member access is not allowed")
	}
	for i := 0; i < len(code); i++ {
		if code[i] == '.' && (i == 0 || !unicode.IsDigit(rune(code[i-1])) || i+1 >= len(code) || !unicode.IsDigit(rune(code[i+1]))) {
			return fmt.Errorf("member access is not allowed")
		}
	}

	illegalOps := []string{"+", "-", "*", "/", "%"}
	for _, op := range illegalOps {
		if strings.Contains(code, op) {
			return fmt.Errorf("arithmetic operator %q is not allowed", op)
		}
	}

	for i := 0; i < len(code); i++ {
		if code[i] != '(' {
			continue
		}
		j := i - 1
		for j >= 0 && unicode.IsSpace(rune(code[j])) {
			j--
		}
		if j >= 0 && (unicode.IsLetter(rune(code[j])) || code[j] == '_') {
			k := j
			for k >= 0 && (unicode.IsLetter(rune(code[k])) || unicode.IsDigit(rune(code[k])) || code[k] == '_') {
				k--
			}
			ident := strings.TrimSpace(code[k+1 : j+1])
			if ident != "" && ident != "not" && ident != "and" && ident != "or" {
				return fmt.Errorf("function calls are not allowed (found %q(...))", ident)
			}
		}
	}

	return nil
}

// stripStringLiterals blanks the contents of quoted strings, keeping the quotes.
func stripStringLiterals(s string) (string, error) {
	var b strings.Builder
	var quote rune
	escaped := false
	for _, r := range s {
		switch {
		case quote == 0:
			if r == '"' || r == '\'' || r == '`' {
				quote = r
			}
			b.WriteRune(r)
		case escaped:
			escaped = false
			b.WriteRune(' ')
		case r == '\\' && quote != '`':
			escaped = true
			b.WriteRune(' ')
		case r == quote:
			quote = 0
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	if quote != 0 {
		return "", fmt.Errorf("unterminated string literal")
	}
	return b.String(), nil
}
