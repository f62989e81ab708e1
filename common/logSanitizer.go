package common

import (
	"regexp"
	"strings"
)

type LogSanitizer interface {
	SanitizeLogMessage(raw string) string
}

// queryStringSanitizer performs string-replacement based log redaction.
// This serves as a backstop, to help make sure that secrets don't get logged.
// Presigned URLs and broker tokens can surface inside HTTP errors, and if
// those errors are logged the secrets would leak without this filter.
type queryStringSanitizer struct {
}

func NewQueryStringSanitizer() LogSanitizer {
	return &queryStringSanitizer{}
}

var sensitiveQueryStringKeys = []string{
	"signature",  // covers both "signature" and x-amz-signature in presigned URLs
	"token",      // broker-issued access tokens
	"credential", // covers redacting x-amz-credential from logs
}

// SanitizeLogMessage removes credential-like strings that are expected to
// exist in material logged by this application: signatures of the kind found
// in presigned URLs, plus broker tokens.
// The implementation uses a 'to lower' of the raw string, because the
// alternative (case-insensitive regexes alone) is dramatically slower.
func (s *queryStringSanitizer) SanitizeLogMessage(msg string) string {
	lowerMsg := strings.ToLower(msg)

	for _, key := range sensitiveQueryStringKeys {
		// take a quick look, using contains, and then get fancy only if the
		// quick look finds something
		if strings.Contains(lowerMsg, key) {
			msg = s.redact(msg, key) // must redact from the original-case msg, not lowerMsg
		}
	}

	return msg
}

func (s *queryStringSanitizer) redact(msg, key string) string {
	const redacted = "-REDACTED-"
	return sensitiveRegexMap[key].ReplaceAllString(msg, "$1"+redacted)
}

// safe for concurrent reads after init
var sensitiveRegexMap = make(map[string]*regexp.Regexp)

func init() {
	for _, key := range sensitiveQueryStringKeys {
		// Allow : or = as the delimiter, with optional surrounding space.
		// We ASSUME the value to be redacted never contains a '&'; without
		// that assumption we would have to redact to the end of the whole
		// query string.
		sensitiveRegexMap[key] = regexp.MustCompile("(?i)(?P<key>" + key + "[ \t]*[:=][ \t]*)(?P<value>[^& ,;\t\n\r]+)")
	}
}
