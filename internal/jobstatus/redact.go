package jobstatus

import (
	"regexp"
	"strings"
)

// maxSummaryLen caps the length of a stored error summary, in runes.
const maxSummaryLen = 256

var (
	urlCredentials = regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://)[^\s/@]+@`)
	secretParams   = regexp.MustCompile(`(?i)\b(api[_-]?key|token|password|passwd|secret|auth)=([^&\s"']+)`)
	secretHeaders  = regexp.MustCompile(`(?i)\b(x-api-key|authorization)(:\s*)(\S+)`)
)

// Summarize turns err into a short, display-safe summary: the first line of
// the message, with URL credentials and secret-looking query values masked,
// truncated to 256 runes.
func Summarize(err error) string {
	if err == nil {
		return ""
	}

	msg, _, _ := strings.Cut(err.Error(), "\n")
	msg = strings.TrimSpace(msg)
	msg = urlCredentials.ReplaceAllString(msg, "${1}***@")
	msg = secretParams.ReplaceAllString(msg, "${1}=***")
	msg = secretHeaders.ReplaceAllString(msg, "${1}${2}***")

	if r := []rune(msg); len(r) > maxSummaryLen {
		msg = string(r[:maxSummaryLen-1]) + "…"
	}
	return msg
}
