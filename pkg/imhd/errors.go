package imhd

import (
	"errors"
	"fmt"
)

// ErrNoMatch is returned when a stop-name query does not resolve to
// exactly one stop. Ambiguous fragments ("Hranic" matches both Hranicna
// and Nam. hraniciarov) fail the same way as unknown names.
var ErrNoMatch = errors.New("no unique stop match")

// ConnError reports that imhd.sk was unreachable or answered with an
// unexpected status code.
type ConnError struct {
	Status int
	Err    error
}

func (e *ConnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imhd.sk unreachable: %v", e.Err)
	}
	return fmt.Sprintf("imhd.sk answered with status %d", e.Status)
}

func (e *ConnError) Unwrap() error { return e.Err }

// ParseError reports that an expected fragment of the site's markup or
// payload was absent. The protocol is undocumented, so this usually
// means the site changed and the client needs updating.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot parse %s: %v", e.What, e.Err)
	}
	return "cannot parse " + e.What
}

func (e *ParseError) Unwrap() error { return e.Err }
