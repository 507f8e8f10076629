// Package intel runs the competitor analysis and discovery workflows.
package intel

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects analysis depth
type Mode string

const (
	ModeSimple Mode = "simple"
	ModeDeep   Mode = "deep"
)

// ErrInvalidMode matches every error returned by ParseMode
var ErrInvalidMode = errors.New("invalid analysis mode")

// ModeError reports an unknown mode value
type ModeError struct {
	Value string
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("Invalid analysis mode: %s. Must be 'simple' or 'deep'", e.Value)
}

func (e *ModeError) Is(target error) bool { return target == ErrInvalidMode }

// ParseMode accepts "simple" or "deep" in any case. Empty means simple.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simple":
		return ModeSimple, nil
	case "deep":
		return ModeDeep, nil
	default:
		return "", &ModeError{Value: s}
	}
}

// Title is the display name used in progress messages
func (m Mode) Title() string {
	if m == ModeDeep {
		return "Deep"
	}
	return "Simple"
}

// Workflow names the pipeline in results
func (m Mode) Workflow() string {
	return "multi_agent_" + string(m)
}

// ValidationError is returned for unusable input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
