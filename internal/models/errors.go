package models

import "strings"

// ValidationError collects every problem found in an input record
type ValidationError struct {
	Problems []string `json:"errors"`
}

// Add appends a problem
func (v *ValidationError) Add(problem string) {
	v.Problems = append(v.Problems, problem)
}

// OrNil returns nil when no problems were recorded
func (v *ValidationError) OrNil() error {
	if len(v.Problems) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	return "validation failed: " + strings.Join(v.Problems, "; ")
}
