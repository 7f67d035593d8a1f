// Package access implements the two ordered access-hook chains every
// outgoing event and incoming request passes through: check_send (for
// events about to be delivered to a client) and check_dispatch (for
// requests about to be dispatched against a resource). Both hooks apply the
// same ownership predicate to Registry traffic and differ only in how a
// refusal is reported.
package access

import mgerrors "github.com/alxayo/mediagraph-core/internal/errors"

// Decision is the outcome of an access check.
type Decision int

const (
	// OK permits the operation.
	OK Decision = iota
	// Skipped silently drops the operation: used only by check_send,
	// never surfaced to the client as an error.
	Skipped
	// NoPermission refuses the operation and is surfaced to the client
	// as an ERROR event on the core resource.
	NoPermission
)

// GlobalLookup resolves a global's owning client uid, reporting whether the
// global exists at all. A global with no owner (ownerUID == 0, hasOwner ==
// false) is owned by the core and is visible/bindable to everyone.
type GlobalLookup func(id uint32) (hasOwner bool, ownerUID uint32, exists bool)

// Checker evaluates the check_send/check_dispatch hooks against Registry
// traffic. Every other resource type is unconditionally allowed, matching
// module-access.c's fall-through `data->res = SPA_RESULT_OK`.
type Checker struct {
	// RegistryType is the type ID of the Registry resource; only requests
	// and events targeting a resource of this type are scrutinized.
	RegistryType uint32
	Lookup       GlobalLookup
}

// NewChecker constructs a Checker for the given registry type id and global
// lookup function.
func NewChecker(registryType uint32, lookup GlobalLookup) *Checker {
	return &Checker{RegistryType: registryType, Lookup: lookup}
}

// checkGlobalOwner matches the source's check_global_owner: false for an
// unknown id, true for an ownerless (core-owned) global, true iff
// owner.uid == client.uid otherwise.
func (c *Checker) checkGlobalOwner(globalID, clientUID uint32) bool {
	hasOwner, ownerUID, exists := c.Lookup(globalID)
	if !exists {
		return false
	}
	if !hasOwner {
		return true
	}
	return ownerUID == clientUID
}

// Registry opcodes recognized by the access checks. Using small dedicated
// constants here (rather than importing the protocol package) keeps this
// package free of a dependency on the wire layer, matching the module's own
// standalone-module shape in the original source.
const (
	OpBind               = 1
	OpNotifyGlobal       = 2
	OpNotifyGlobalRemove = 3
)

// CheckDispatch evaluates the check_dispatch hook for a request with the
// given opcode targeting a resource of type resourceType. Only BIND on the
// Registry is conditionally allowed; every other Registry opcode is
// refused with NoPermission, and every non-Registry resource is allowed.
func (c *Checker) CheckDispatch(resourceType uint32, opcode int, clientUID uint32, targetGlobalID uint32) Decision {
	if resourceType != c.RegistryType {
		return OK
	}
	if opcode != OpBind {
		return NoPermission
	}
	if c.checkGlobalOwner(targetGlobalID, clientUID) {
		return OK
	}
	return NoPermission
}

// CheckSend evaluates the check_send hook for an event with the given
// opcode about to be sent on a resource of type resourceType.
// NOTIFY_GLOBAL/NOTIFY_GLOBAL_REMOVE on the Registry are allowed iff the
// ownership predicate holds, else silently Skipped (never surfaced as an
// error); every other Registry event is refused with NoPermission; every
// non-Registry resource is allowed.
func (c *Checker) CheckSend(resourceType uint32, opcode int, clientUID uint32, targetGlobalID uint32) Decision {
	if resourceType != c.RegistryType {
		return OK
	}
	switch opcode {
	case OpNotifyGlobal, OpNotifyGlobalRemove:
		if c.checkGlobalOwner(targetGlobalID, clientUID) {
			return OK
		}
		return Skipped
	default:
		return NoPermission
	}
}

// Err converts a refused Decision into the error type callers should
// surface. Skipped has no error representation: callers must check for it
// explicitly and drop the event rather than calling Err.
func Err(op string, d Decision) error {
	switch d {
	case OK:
		return nil
	case NoPermission:
		return mgerrors.NewAccessError(op, nil)
	default:
		return mgerrors.NewAccessError(op, nil)
	}
}
