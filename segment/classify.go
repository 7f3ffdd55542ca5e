package segment

import (
	"errors"
	"strings"

	"github.com/justapithecus/llmer/types"
)

// ErrNoCommandName is returned when a command sentence carries no
// extractable command name.
var ErrNoCommandName = errors.New("no command name in command sentence")

// rule is one link of the classification chain.
type rule struct {
	name  string
	match func(text string) bool
	typ   types.OutgoingType
}

func hasBraces(text string) bool {
	return strings.Contains(text, "{") && strings.Contains(text, "}")
}

// chain is evaluated in order; the first matching rule wins.
var chain = []rule{
	{
		name:  "command",
		match: func(text string) bool { return strings.Contains(text, "commandType") },
		typ:   types.OutgoingCommand,
	},
	{
		name:  "prefab",
		match: func(text string) bool { return hasBraces(text) && strings.Contains(text, "prefab") },
		typ:   types.OutgoingStructuredObject,
	},
	{
		name:  "action",
		match: func(text string) bool { return hasBraces(text) && strings.Contains(text, "action") },
		typ:   types.OutgoingAction,
	},
	{
		// Unrecognized structured objects share the terminal code.
		name:  "unrecognized",
		match: hasBraces,
		typ:   types.OutgoingTerminal,
	},
}

// Classify maps a ready sentence to its outbound type.
func Classify(text string) types.OutgoingType {
	for _, r := range chain {
		if r.match(text) {
			return r.typ
		}
	}
	return types.OutgoingText
}

// IsUnrecognized returns true if the sentence looks like a structured object
// that matched none of the known kinds.
func IsUnrecognized(text string) bool {
	return Classify(text) == types.OutgoingTerminal
}

// ExtractCommand pulls the command name out of a command sentence: the text
// after the first colon of the first comma-separated segment.
//
//	commandType: move, target: npc1      -> move
//	{"commandType": "move", "x": 1}      -> "move"
//	commandType: , target: npc1          -> ErrNoCommandName
func ExtractCommand(text string) (string, error) {
	head, _, _ := strings.Cut(text, ",")
	fields := strings.Split(head, ":")
	if len(fields) < 2 {
		return "", ErrNoCommandName
	}
	name := strings.TrimSpace(fields[1])
	if name == "" {
		return "", ErrNoCommandName
	}
	return name, nil
}
