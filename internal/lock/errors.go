package lock

import (
	"fmt"
	"strings"
)

// LockedResourceError reports an operation attempted on a locked resource.
//
// Type is the namespace of the locked resource, ID identifies it.
// Callers typically translate this into a "resource is busy" user reply.
type LockedResourceError struct {
	Type string
	ID   any
}

func (e *LockedResourceError) Error() string {
	return fmt.Sprintf(
		"cannot operate on %s `%v`; it is currently locked and in use by another operation",
		strings.ToLower(e.Type), e.ID,
	)
}
