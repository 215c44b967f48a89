// -----------------------------------------------------------------------
// Path template expansion
//
// Destination paths and chain rules may carry tokens like {year} or
// {filename} that are substituted per file at transfer time. Unknown
// tokens pass through untouched so template typos surface in the
// resulting path instead of failing the job.
// -----------------------------------------------------------------------

package templates

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Expand substitutes path template tokens for one source file at the
// given time. sourceFile may be a bare name or a full path; only its
// base name is used.
func Expand(template string, sourceFile string, now time.Time) string {
	fileName := path.Base(strings.ReplaceAll(sourceFile, "\\", "/"))

	ext := path.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)
	extNoDot := strings.TrimPrefix(ext, ".")

	replacer := strings.NewReplacer(
		"{year}", fmt.Sprintf("%04d", now.Year()),
		"{month}", fmt.Sprintf("%02d", int(now.Month())),
		"{day}", fmt.Sprintf("%02d", now.Day()),
		"{hour}", fmt.Sprintf("%02d", now.Hour()),
		"{minute}", fmt.Sprintf("%02d", now.Minute()),
		"{timestamp}", now.Format("20060102_150405"),
		"{filename}", fileName,
		"{original_filename}", fileName,
		"{name}", stem,
		"{basename}", stem,
		"{ext}", extNoDot,
		"{extension}", extNoDot,
	)

	return replacer.Replace(template)
}

// ExpandNow substitutes tokens using the current wall-clock time
func ExpandNow(template string, sourceFile string) string {
	return Expand(template, sourceFile, time.Now())
}

// HasTokens reports whether a template contains any substitution tokens
func HasTokens(template string) bool {
	known := []string{
		"{year}", "{month}", "{day}", "{hour}", "{minute}", "{timestamp}",
		"{filename}", "{original_filename}", "{name}", "{basename}",
		"{ext}", "{extension}",
	}
	for _, token := range known {
		if strings.Contains(template, token) {
			return true
		}
	}
	return false
}
