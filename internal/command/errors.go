package command

import (
	"fmt"
	"strings"
)

// UsageError reports a directive naming an unknown server or action. The
// message carries contextual help so the chat reply is actionable on its own.
type UsageError struct {
	Msg          string
	KnownServers []string
	KnownActions []string
}

func (e *UsageError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Msg)
	if len(e.KnownServers) > 0 {
		sb.WriteString(fmt.Sprintf("\nKnown servers: %s", strings.Join(e.KnownServers, ", ")))
	}
	if len(e.KnownActions) > 0 {
		sb.WriteString(fmt.Sprintf("\nKnown actions: %s", strings.Join(e.KnownActions, ", ")))
	}
	return sb.String()
}

// ArgumentError reports malformed structured arguments, citing the offending
// fragment of the directive.
type ArgumentError struct {
	Fragment string
	Err      error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments %q: %v", e.Fragment, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }
