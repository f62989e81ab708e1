package aggregate

import (
	"fmt"
	"strings"
)

// ExitCodeString maps a raw accounting exit status to its published form:
// 0 is COMPLETED, any other value FAILED:<n>, absent UNKNOWN.
func ExitCodeString(status *int64) string {
	switch {
	case status == nil:
		return "UNKNOWN"
	case *status == 0:
		return "COMPLETED"
	default:
		return fmt.Sprintf("FAILED:%d", *status)
	}
}

// CleanExitCode strips everything but letters, the final normalization
// applied before publishing ("FAILED:7" becomes "FAILED").
func CleanExitCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
