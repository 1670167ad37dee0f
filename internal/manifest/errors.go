package manifest

import (
	"fmt"
	"strings"
)

// ValidationError reports every problem found in a manifest. Issues are
// *FieldError or *UnknownKeyError values and can be matched with errors.As.
type ValidationError struct {
	Source string
	Issues []error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Source != "" {
		fmt.Fprintf(&b, "invalid manifest %s", e.Source)
	} else {
		b.WriteString("invalid manifest")
	}
	fmt.Fprintf(&b, " (%d issue", len(e.Issues))
	if len(e.Issues) != 1 {
		b.WriteString("s")
	}
	b.WriteString(")")
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue.Error())
	}
	return b.String()
}

// Unwrap exposes the individual issues to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Issues
}

// FieldError is a single invalid or missing field.
type FieldError struct {
	Path    string
	Message string
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// UnknownKeyError is a key the manifest schema does not define.
type UnknownKeyError struct {
	Path string
	Key  string
}

func (e *UnknownKeyError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("unknown top-level key %q", e.Key)
	}
	return fmt.Sprintf("%s: unknown key %q", e.Path, e.Key)
}
