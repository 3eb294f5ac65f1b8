package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxReasonLength bounds any message surfaced to a conversation.
	MaxReasonLength = 240
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens as sent to inventory and validation services
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-_.]+`)

	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|token|key)=[A-Za-z0-9\-_]{8,}`)

	// user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// goroutine dumps and file:line references never leave the process
	stackPattern = regexp.MustCompile(`(?m)(goroutine \d+ \[.*|\S+\.go:\d+(\s+\+0x[0-9a-f]+)?)`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeConnectionString removes credentials from a connection string.
// Use this before logging any DSN or service URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error text that might contain sensitive data.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redact(err.Error())
}

// SanitizeMessage prepares text for the conversation transport: secrets are
// redacted, stack detail removed, whitespace collapsed and length bounded.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}
	sanitized := redact(msg)
	sanitized = stackPattern.ReplaceAllString(sanitized, "")
	sanitized = strings.TrimSpace(whitespacePattern.ReplaceAllString(sanitized, " "))
	return TruncateString(sanitized, MaxReasonLength)
}

func redact(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
