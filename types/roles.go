// Package types defines core domain types for the llmer relay.
//
//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// RoleCode is the role digit carried by inbound frames.
type RoleCode uint8

// Inbound role codes.
const (
	RoleUserText      RoleCode = 0
	RoleAssistantEcho RoleCode = 1
	RoleSystemPrompt  RoleCode = 2
	RoleExampleUser   RoleCode = 3
	RoleImageUpload   RoleCode = 4
)

// IsKnown returns true if the code is one of the inbound roles.
func (r RoleCode) IsKnown() bool {
	return r <= RoleImageUpload
}

// TriggersGeneration returns true if a frame with this role starts a
// generation cycle.
func (r RoleCode) TriggersGeneration() bool {
	return r == RoleUserText
}

func (r RoleCode) String() string {
	switch r {
	case RoleUserText:
		return "user_text"
	case RoleAssistantEcho:
		return "assistant_echo"
	case RoleSystemPrompt:
		return "system_prompt"
	case RoleExampleUser:
		return "example_user"
	case RoleImageUpload:
		return "image_upload"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// OutgoingType is the semantic tag carried by outbound frames.
type OutgoingType uint8

// Outbound type codes.
//
// OutgoingTerminal is shared by "end of response" and "unrecognized structured
// object". Clients depend on both meanings; the collision is kept.
const (
	OutgoingCommand          OutgoingType = 0
	OutgoingStructuredObject OutgoingType = 1
	OutgoingText             OutgoingType = 2
	OutgoingAction           OutgoingType = 3
	OutgoingError            OutgoingType = 8
	OutgoingTerminal         OutgoingType = 9
)

// Code returns the wire digit for the type.
func (o OutgoingType) Code() uint8 {
	return uint8(o)
}

func (o OutgoingType) String() string {
	switch o {
	case OutgoingCommand:
		return "command"
	case OutgoingStructuredObject:
		return "structured_object"
	case OutgoingText:
		return "text"
	case OutgoingAction:
		return "action"
	case OutgoingError:
		return "error"
	case OutgoingTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("outgoing(%d)", uint8(o))
	}
}
