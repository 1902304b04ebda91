// Package memory implements the scoped key/value store used by the action
// runtime and lifecycle machinery. Values are opaque serializable payloads
// with last-write-wins semantics across six isolation scopes.
//
// Writes and deletes are best-effort: failures are logged, never
// propagated, so a flaky backend cannot block a build. Reads propagate
// failures so callers can distinguish "absent" from "store unavailable".
package memory

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ScopeKind identifies an isolation boundary.
type ScopeKind string

const (
	ScopeSession  ScopeKind = "session"
	ScopeTool     ScopeKind = "tool"
	ScopeToolUser ScopeKind = "tool_user"
	ScopeToolOrg  ScopeKind = "tool_org"
	ScopeUser     ScopeKind = "user"
	ScopeOrg      ScopeKind = "org"
)

// ErrInvalidScope is returned when a scope carries malformed identifiers.
var ErrInvalidScope = errors.New("invalid memory scope")

// identPattern matches acceptable scope identifiers. Identifiers arrive
// from request handlers, so anything that could smuggle a separator into a
// storage key is rejected before dispatch.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

const maxIdentLength = 128

// Scope is a tagged union of isolation boundaries. Only the identifiers
// required by the kind are consulted; the rest must be empty.
type Scope struct {
	Kind      ScopeKind
	SessionID string
	ToolID    string
	UserID    string
	OrgID     string
}

// SessionScope isolates values to one session.
func SessionScope(sessionID string) Scope {
	return Scope{Kind: ScopeSession, SessionID: sessionID}
}

// ToolScope isolates values to one tool.
func ToolScope(toolID string) Scope {
	return Scope{Kind: ScopeTool, ToolID: toolID}
}

// ToolUserScope isolates values to one tool and one user.
func ToolUserScope(toolID, userID string) Scope {
	return Scope{Kind: ScopeToolUser, ToolID: toolID, UserID: userID}
}

// ToolOrgScope isolates values to one tool and one org.
func ToolOrgScope(toolID, orgID string) Scope {
	return Scope{Kind: ScopeToolOrg, ToolID: toolID, OrgID: orgID}
}

// UserScope isolates values to one user across tools.
func UserScope(userID string) Scope {
	return Scope{Kind: ScopeUser, UserID: userID}
}

// OrgScope isolates values to one org across tools.
func OrgScope(orgID string) Scope {
	return Scope{Kind: ScopeOrg, OrgID: orgID}
}

// Validate rejects malformed scopes before any storage dispatch.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeSession:
		return requireIdents(map[string]string{"session": s.SessionID})
	case ScopeTool:
		return requireIdents(map[string]string{"tool": s.ToolID})
	case ScopeToolUser:
		return requireIdents(map[string]string{"tool": s.ToolID, "user": s.UserID})
	case ScopeToolOrg:
		return requireIdents(map[string]string{"tool": s.ToolID, "org": s.OrgID})
	case ScopeUser:
		return requireIdents(map[string]string{"user": s.UserID})
	case ScopeOrg:
		return requireIdents(map[string]string{"org": s.OrgID})
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
}

// storageKey renders the scope as a stable key prefix. Validate must have
// passed before this is called.
func (s Scope) storageKey() string {
	switch s.Kind {
	case ScopeSession:
		return "session/" + s.SessionID
	case ScopeTool:
		return "tool/" + s.ToolID
	case ScopeToolUser:
		return "tool/" + s.ToolID + "/user/" + s.UserID
	case ScopeToolOrg:
		return "tool/" + s.ToolID + "/org/" + s.OrgID
	case ScopeUser:
		return "user/" + s.UserID
	case ScopeOrg:
		return "org/" + s.OrgID
	}
	return ""
}

func requireIdents(idents map[string]string) error {
	for name, value := range idents {
		clean := strings.TrimSpace(value)
		if clean == "" {
			return fmt.Errorf("%w: %s id is required", ErrInvalidScope, name)
		}
		if len(clean) > maxIdentLength || !identPattern.MatchString(clean) {
			return fmt.Errorf("%w: malformed %s id %q", ErrInvalidScope, name, value)
		}
	}
	return nil
}

// validNamespaceKey checks namespace and key segments with the same rules
// as scope identifiers.
func validNamespaceKey(namespace, key string) error {
	if err := requireIdents(map[string]string{"namespace": namespace}); err != nil {
		return err
	}
	return requireIdents(map[string]string{"key": key})
}
