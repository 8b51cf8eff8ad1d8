package capabilities

import (
	"fmt"
	"strings"
)

// FetchError is returned when the capabilities document could not be retrieved,
// either because of a transport failure or a non-2xx response.
type FetchError struct {
	Location   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not fetch capabilities from %s: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("could not fetch capabilities from %s: unexpected status %d", e.Location, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError is returned for a body that is not well-formed XML
// or for a field whose text cannot be interpreted.
type ParseError struct {
	// Snippet holds the (truncated) start of the offending input, if any
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("could not parse capabilities: %v (input starts with %q)", e.Err, e.Snippet)
	}
	return fmt.Sprintf("could not parse capabilities: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// MissingFieldError is returned when the requested tile matrix set does not exist
// or when a zoom level lacks a field that is needed.
type MissingFieldError struct {
	Field     string
	MatrixSet string
	// ZoomLevel is empty when the whole tile matrix set is missing
	ZoomLevel string
	// Available lists the tile matrix sets in the document, only set when the tile matrix set is missing
	Available []string
}

func (e *MissingFieldError) Error() string {
	switch {
	case e.ZoomLevel != "":
		return fmt.Sprintf("field %q missing in zoom level %q of tile matrix set %q", e.Field, e.ZoomLevel, e.MatrixSet)
	case len(e.Available) > 0:
		return fmt.Sprintf("no %s found for tile matrix set %q, available: %s",
			e.Field, e.MatrixSet, strings.Join(e.Available, ", "))
	default:
		return fmt.Sprintf("no %s found for tile matrix set %q", e.Field, e.MatrixSet)
	}
}
