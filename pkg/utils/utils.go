// Package utils holds small formatting and string helpers shared across
// the container-tool packages.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// SplitLines takes a multiline string and splits it on newlines, stripping
// \r's and dropping a single trailing blank line.
func SplitLines(multilineString string) []string {
	multilineString = strings.Replace(multilineString, "\r", "", -1)
	if multilineString == "" || multilineString == "\n" {
		return make([]string, 0)
	}
	lines := strings.Split(multilineString, "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	return lines
}

// NormalizeLinefeeds removes all Windows and Mac style line feeds.
func NormalizeLinefeeds(str string) string {
	str = strings.Replace(str, "\r\n", "\n", -1)
	str = strings.Replace(str, "\r", "", -1)
	return str
}

// SafeTruncate truncates str to limit bytes, returning str unchanged if
// it's already shorter.
func SafeTruncate(str string, limit int) string {
	if len(str) > limit {
		return str[0:limit]
	}
	return str
}

// RandomHex returns n random lowercase hex characters, used for container
// name suffixes and job ids. n must be even.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random hex: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ShellQuote wraps s in single quotes, escaping any embedded single quote
// as '\'' so it is safe to splice into a POSIX sh command line.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// TailLines returns the last n lines of s, joined back with newlines.
func TailLines(s string, n int) string {
	lines := SplitLines(s)
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
