package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultPrefix triggers directive handling in chat messages.
const DefaultPrefix = "!mcp"

const (
	ActionHelp      = "help"
	ActionServers   = "servers"
	ActionTools     = "tools"
	ActionResources = "resources"
	ActionPrompts   = "prompts"
	ActionCall      = "call"
)

// KnownActions lists every directive action, in help order.
var KnownActions = []string{
	ActionHelp,
	ActionServers,
	ActionTools,
	ActionResources,
	ActionPrompts,
	ActionCall,
}

// Directive is the structured form of one chat directive.
type Directive struct {
	Server   string
	Action   string
	Tool     string
	ArgsJSON string
}

// Parse extracts a directive from raw chat text. handled is false when the
// text does not start with the prefix, signalling free-text fallback. The
// grammar is:
//
//	<prefix>
//	<prefix> help
//	<prefix> servers
//	<prefix> <server> tools|resources|prompts
//	<prefix> <server> call <tool> [json-args]
func Parse(prefix, content string) (directive *Directive, handled bool, err error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}

	content = strings.TrimSpace(content)
	rest, found := strings.CutPrefix(content, prefix)
	if !found {
		return nil, false, nil
	}
	// "!mcpx" is not a directive, "!mcp servers" is.
	if rest != "" && !strings.HasPrefix(rest, " ") {
		return nil, false, nil
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return &Directive{Action: ActionHelp}, true, nil
	}

	head := strings.ToLower(fields[0])
	switch head {
	case ActionHelp:
		return &Directive{Action: ActionHelp}, true, nil
	case ActionServers:
		return &Directive{Action: ActionServers}, true, nil
	}

	server := fields[0]
	if len(fields) < 2 {
		return nil, true, &UsageError{
			Msg:          fmt.Sprintf("missing action for server %q", server),
			KnownActions: KnownActions,
		}
	}

	action := strings.ToLower(fields[1])
	switch action {
	case ActionTools, ActionResources, ActionPrompts:
		return &Directive{Server: server, Action: action}, true, nil
	case ActionCall:
		if len(fields) < 3 {
			return nil, true, &UsageError{
				Msg:          fmt.Sprintf("call needs a tool name: %s %s call <tool> [json-args]", prefix, server),
				KnownActions: KnownActions,
			}
		}
		tool := fields[2]
		argsJSON, err := parseArgsFragment(strings.Join(fields[3:], " "))
		if err != nil {
			return nil, true, err
		}
		return &Directive{Server: server, Action: ActionCall, Tool: tool, ArgsJSON: argsJSON}, true, nil
	default:
		return nil, true, &UsageError{
			Msg:          fmt.Sprintf("unknown action %q", fields[1]),
			KnownActions: KnownActions,
		}
	}
}

func parseArgsFragment(fragment string) (string, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return "{}", nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(fragment), &parsed); err != nil {
		return "", &ArgumentError{Fragment: fragment, Err: err}
	}
	return fragment, nil
}
