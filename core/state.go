package core

import (
	"fmt"
	"strings"
)

// State key prefixes. They are part of the wire contract; any key without
// one of these prefixes is session scoped.
const (
	AppPrefix  = "app:"
	UserPrefix = "user:"
	TempPrefix = "temp:"
)

// Scope classifies a state key by its textual prefix.
type Scope int

const (
	// ScopeSession is the default scope for unprefixed keys.
	ScopeSession Scope = iota
	// ScopeApp marks keys prefixed with "app:".
	ScopeApp
	// ScopeUser marks keys prefixed with "user:".
	ScopeUser
	// ScopeTemp marks keys prefixed with "temp:". Never persisted.
	ScopeTemp
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case ScopeApp:
		return "app"
	case ScopeUser:
		return "user"
	case ScopeTemp:
		return "temp"
	default:
		return "session"
	}
}

// Prefix returns the key prefix of the scope ("" for session scope).
func (s Scope) Prefix() string {
	switch s {
	case ScopeApp:
		return AppPrefix
	case ScopeUser:
		return UserPrefix
	case ScopeTemp:
		return TempPrefix
	default:
		return ""
	}
}

// IsPersisted reports whether keys of this scope survive into stored or
// returned state.
func (s Scope) IsPersisted() bool { return s != ScopeTemp }

// ClassifyKey returns the scope of a state key. It depends only on the key
// text.
func ClassifyKey(key string) Scope {
	switch {
	case strings.HasPrefix(key, AppPrefix):
		return ScopeApp
	case strings.HasPrefix(key, UserPrefix):
		return ScopeUser
	case strings.HasPrefix(key, TempPrefix):
		return ScopeTemp
	default:
		return ScopeSession
	}
}

// StateMap maps state keys to values. It is the unit merged on every
// write. Maps returned by reads never contain temp keys.
type StateMap map[string]Value

// StateFromAny converts a map of native values into a StateMap.
func StateFromAny(m map[string]any) (StateMap, error) {
	out := make(StateMap, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: state key %q: %v", ErrInvalidArgument, k, err)
		}
		out[k] = v
	}
	return out, nil
}

// MustState is like StateFromAny but panics on error. Intended for literals.
func MustState(m map[string]any) StateMap {
	s, err := StateFromAny(m)
	if err != nil {
		panic(err)
	}
	return s
}

// Get returns the value for key and whether it is present.
func (m StateMap) Get(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

// Keys returns the keys in lexical order.
func (m StateMap) Keys() []string { return sortedKeys(m) }

// Clone returns a deep copy. A nil map clones to an empty one.
func (m StateMap) Clone() StateMap {
	out := make(StateMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Persisted returns a deep copy without temp-scoped keys.
func (m StateMap) Persisted() StateMap {
	out := make(StateMap, len(m))
	for k, v := range m {
		if ClassifyKey(k).IsPersisted() {
			out[k] = v.Clone()
		}
	}
	return out
}

// ApplyDelta returns a new map holding m overwritten key by key with the
// persisted entries of delta. Neither input is modified.
func (m StateMap) ApplyDelta(delta StateMap) StateMap {
	out := m.Persisted()
	for k, v := range delta {
		if ClassifyKey(k).IsPersisted() {
			out[k] = v.Clone()
		}
	}
	return out
}

// Equal reports whether both maps hold the same keys with equal values.
func (m StateMap) Equal(o StateMap) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
