package auth

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
)

var semverPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-(alpha|beta|rc)\.\d+)?$`)

// IsSemanticVersion accepts MAJOR.MINOR.PATCH with an optional
// -alpha.N, -beta.N or -rc.N suffix
func IsSemanticVersion(v string) bool {
	return semverPattern.MatchString(v)
}

// SemanticVersion is an ozzo rule for version fields
var SemanticVersion = validation.NewStringRule(IsSemanticVersion,
	"Invalid version format. Expected format: MAJOR.MINOR.PATCH or MAJOR.MINOR.PATCH-(alpha|beta|rc).N")
