package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Vars is the typed substitution context for pre/post-processing commands
// and output filenames. Lookup is case-insensitive.
type Vars struct {
	values map[string]string
}

// NewVars creates an empty substitution context.
func NewVars() *Vars {
	return &Vars{values: make(map[string]string)}
}

// Set stores a value under a case-insensitive name.
func (v *Vars) Set(name, value string) *Vars {
	v.values[strings.ToLower(name)] = value
	return v
}

// SetInt stores an integer value.
func (v *Vars) SetInt(name string, value int64) *Vars {
	return v.Set(name, strconv.FormatInt(value, 10))
}

// SetTime stores a timestamp as RFC3339 UTC.
func (v *Vars) SetTime(name string, value time.Time) *Vars {
	return v.Set(name, value.UTC().Format(time.RFC3339))
}

// Get returns the value for a name, and whether it was set.
func (v *Vars) Get(name string) (string, bool) {
	val, ok := v.values[strings.ToLower(name)]
	return val, ok
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Render substitutes {placeholder} occurrences in a single pass:
// placeholders inside substituted values are never re-expanded, and an
// unresolvable placeholder becomes the empty string rather than staying
// literal.
func (v *Vars) Render(input string) string {
	if input == "" || !strings.Contains(input, "{") {
		return input
	}
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[1 : len(match)-1]
		if val, ok := v.values[strings.ToLower(name)]; ok {
			return val
		}
		return ""
	})
}

// executionVars seeds the standard context for an execution. Fields not
// yet known at the current phase keep their zero defaults and get
// re-seeded before post-processing.
func executionVars(profile *Profile, exec *ProfileExecution) *Vars {
	v := NewVars().
		Set("executionid", exec.ID).
		Set("profileid", profile.ID).
		Set("profilename", profile.Name).
		Set("status", exec.Status).
		Set("outputpath", exec.OutputPath).
		Set("errormessage", exec.ErrorMessage).
		SetInt("rowcount", int64(exec.RowCount)).
		SetInt("newrows", int64(exec.NewRows)).
		SetInt("changedrows", int64(exec.ChangedRows)).
		SetInt("deletedrows", int64(exec.DeletedRows)).
		SetInt("executiontimems", exec.ExecutionTimeMs).
		SetTime("startedat", exec.StartedAt).
		Set("date", exec.StartedAt.UTC().Format("2006-01-02")).
		Set("time", exec.StartedAt.UTC().Format("150405"))
	return v
}
