// Package stringutils provides helpers to format multi-line descriptions.
package stringutils

import "strings"

// IndentString prefixes each line of the string with indent.
// Empty lines are not indented.
func IndentString(str, indent string) string {
	lines := strings.SplitAfter(str, "\n")

	var result strings.Builder
	for _, l := range lines {
		if l == "" || l == "\n" {
			result.WriteString(l)
			continue
		}

		result.WriteString(indent)
		result.WriteString(l)
	}

	return result.String()
}
