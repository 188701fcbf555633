package tools

import "errors"

// ToolNotFoundError is returned by Invoke for a name no provider owns.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return "tool not found: " + e.Name
}

// IsToolNotFound reports whether err wraps a *ToolNotFoundError.
func IsToolNotFound(err error) bool {
	var nf *ToolNotFoundError
	return errors.As(err, &nf)
}
