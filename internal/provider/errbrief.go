package provider

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorBrief condenses an upstream error body into a short human-readable
// summary for logs and terminal results. Both backend families wrap failures
// in an {"error": {...}} envelope with a message and a type/status field; the
// summary is independent of the retry decision, which uses only the status
// code.
func ErrorBrief(body string, statusCode int) string {
	if gjson.Valid(body) {
		errObj := gjson.Get(body, "error")
		if errObj.IsObject() {
			msg := errObj.Get("message").String()
			status := errObj.Get("status").String()
			if status == "" {
				status = errObj.Get("type").String()
			}
			if msg != "" {
				if len(msg) > 80 {
					msg = msg[:80]
				}
				if status != "" {
					return truncate(status+": "+msg, 100)
				}
				return msg
			}
			if status != "" {
				return "status: " + status
			}
		} else if errObj.Type == gjson.String {
			return truncate(errObj.String(), 100)
		}
	}

	// Not parseable: first line of the raw body, truncated.
	firstLine := body
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	firstLine = truncate(strings.TrimSpace(firstLine), 80)
	if statusCode > 0 {
		if firstLine == "" {
			return fmt.Sprintf("HTTP %d", statusCode)
		}
		return fmt.Sprintf("HTTP %d: %s", statusCode, firstLine)
	}
	if firstLine == "" {
		return "unknown error"
	}
	return firstLine
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
