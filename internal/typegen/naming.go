package typegen

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	separatorRegex = regexp.MustCompile(`[^A-Za-z0-9]+`)
	identRegex     = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
)

// Words that cannot be used as a bare function or variable name.
var reserved = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true, "do": true,
	"else": true, "export": true, "extends": true, "finally": true, "for": true,
	"function": true, "if": true, "import": true, "in": true, "instanceof": true,
	"new": true, "return": true, "super": true, "switch": true, "this": true,
	"throw": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "let": true, "enum": true,
	"await": true, "interface": true, "package": true, "private": true,
	"protected": true, "public": true, "static": true,
}

// splitWords breaks a name into lowercase words regardless of its casing.
func splitWords(s string) []string {
	var words []string
	for _, part := range separatorRegex.Split(s, -1) {
		for _, w := range splitCamelCase(part) {
			if w != "" {
				words = append(words, strings.ToLower(w))
			}
		}
	}
	return words
}

// splitCamelCase splits on lower-to-upper transitions and keeps acronyms together,
// so "HTTPServerID" becomes HTTP, Server, ID.
func splitCamelCase(s string) []string {
	runes := []rune(s)
	var words []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		if isBoundary(prev, cur, runes[i+1:]) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	if start < len(runes) {
		words = append(words, string(runes[start:]))
	}
	return words
}

func isBoundary(prev, cur rune, rest []rune) bool {
	switch {
	case unicode.IsLower(prev) && unicode.IsUpper(cur):
		return true
	case unicode.IsDigit(prev) != unicode.IsDigit(cur):
		return true
	case unicode.IsUpper(prev) && unicode.IsUpper(cur) && len(rest) > 0 && unicode.IsLower(rest[0]):
		return true
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func pascalCase(s string) string {
	var b strings.Builder
	for _, w := range splitWords(s) {
		b.WriteString(capitalize(w))
	}
	out := b.String()
	if out != "" && unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}

func camelCase(s string) string {
	p := pascalCase(s)
	if p == "" || p[0] == '_' {
		return p
	}
	r := []rune(p)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// typeName sanitises a component name into a TypeScript type identifier.
func typeName(s string) string {
	if identRegex.MatchString(s) && unicode.IsUpper(rune(s[0])) {
		return s
	}
	if n := pascalCase(s); n != "" {
		return n
	}
	return "Unnamed"
}

// propertyKey quotes object keys that are not valid identifiers.
func propertyKey(s string) string {
	if identRegex.MatchString(s) {
		return s
	}
	return quote(s)
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

// cleanDescription makes free text safe for a single-line JSDoc comment.
func cleanDescription(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "*/", `*\/`)
}
