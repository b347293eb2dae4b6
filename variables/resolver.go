// Package variables implements the flow runtime's variable resolver
// (spec component C1): parsing and resolving {{scope.path}} and
// {{secret:key}} references against a set of named scopes, and
// substituting those references through strings and arbitrary
// JSON-like structures.
//
// The scope/substitution contract is grounded directly on the Python
// original's VariableResolver (variable_resolver.py): same closed
// scope set, same {{...}} syntax (note this differs from the
// teacher's own ${...} convention in semantic/runtime/variables.go —
// we follow the spec/original here, not the teacher's token), same
// type-preservation rule for a string that is entirely one reference,
// and the same read-only scopes.
package variables

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// referencePattern matches {{...}} occurrences; the captured group is
// trimmed and parsed by parseReference.
var referencePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// fullReferencePattern is used for the substitute_object "entire
// string is one reference" check.
var fullReferencePattern = regexp.MustCompile(`^\{\{([^}]+)\}\}$`)

// Scope names understood by Resolve. secret is handled separately via
// SecretResolver and never appears as a key in Scopes.
const (
	ScopeUser    = "user"
	ScopeContext = "context"
	ScopeTemp    = "temp"
	ScopeInput   = "input"
	ScopeOutput  = "output"
	ScopeLocal   = "local"
)

var validScopes = map[string]bool{
	ScopeUser:    true,
	ScopeContext: true,
	ScopeTemp:    true,
	ScopeInput:   true,
	ScopeOutput:  true,
	ScopeLocal:   true,
}

// SecretResolver resolves a {{secret:KEY}} reference. It is the only
// I/O the resolver performs; scope data itself is resolved purely
// in-memory.
type SecretResolver func(key string) (string, error)

// Reference is a parsed {{...}} variable reference.
type Reference struct {
	Scope    string
	Path     string
	FullPath string
	IsSecret bool
}

// ValidationError reports a malformed or unknown-scope reference.
// Resolvers treat it as "absent" rather than propagating a panic.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ScopeData holds one named scope's map and whether writes to it are
// rejected. user/context/input are read-only; temp/output/local are
// writable by the engine.
type ScopeData struct {
	Data     map[string]interface{}
	ReadOnly bool
}

// Resolver resolves variable references against a fixed set of
// scopes. It is not safe for concurrent mutation of Scopes via Set
// while Resolve/Substitute calls are in flight on another goroutine;
// callers build one Resolver per turn.
type Resolver struct {
	Scopes []ScopeData
	byName map[string]*ScopeData

	Secret SecretResolver
}

// New builds an empty Resolver; scopes are added with SetScope.
func New() *Resolver {
	return &Resolver{byName: make(map[string]*ScopeData)}
}

// SetScope registers data for a named scope, replacing any prior
// data for that name. name must be one of the closed scope set.
func (r *Resolver) SetScope(name string, data map[string]interface{}, readOnly bool) error {
	if !validScopes[name] {
		return &ValidationError{Msg: fmt.Sprintf("invalid scope %q", name)}
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	if r.byName == nil {
		r.byName = make(map[string]*ScopeData)
	}
	sd := ScopeData{Data: data, ReadOnly: readOnly}
	r.Scopes = append(r.Scopes, sd)
	r.byName[name] = &r.Scopes[len(r.Scopes)-1]
	return nil
}

// scope returns the registered scope data for name, or nil if unset.
func (r *Resolver) scope(name string) *ScopeData {
	if r.byName == nil {
		return nil
	}
	return r.byName[name]
}

// NewSessionResolver builds a Resolver the way
// create_session_resolver does: user and context read-only from
// session state, temp writable from session state, plus any
// composite scopes (input read-only, output/local writable).
func NewSessionResolver(state map[string]interface{}, composite map[string]map[string]interface{}) *Resolver {
	r := New()
	r.SetScope(ScopeUser, asMap(state[ScopeUser]), true)
	r.SetScope(ScopeContext, asMap(state[ScopeContext]), true)
	r.SetScope(ScopeTemp, asMap(state[ScopeTemp]), false)
	for name, data := range composite {
		r.SetScope(name, data, name == ScopeInput)
	}
	return r
}

func asMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// ParseReference splits a reference string (without the surrounding
// {{ }}) into scope and path, or recognizes a secret:KEY form.
func ParseReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "secret:") {
		return Reference{
			Scope:    "secret",
			Path:     strings.TrimPrefix(trimmed, "secret:"),
			FullPath: trimmed,
			IsSecret: true,
		}, nil
	}

	scope, path, found := strings.Cut(trimmed, ".")
	if !found {
		return Reference{}, &ValidationError{Msg: fmt.Sprintf("invalid variable reference %q: expected scope.path", trimmed)}
	}
	if !validScopes[scope] {
		return Reference{}, &ValidationError{Msg: fmt.Sprintf("invalid scope %q in reference %q", scope, trimmed)}
	}
	return Reference{Scope: scope, Path: path, FullPath: trimmed}, nil
}

// Resolve looks up the value for a parsed reference, returning
// (nil, nil) when the reference is structurally valid but the path or
// scope has no value — "absent" per spec §4.1, not an error.
func (r *Resolver) Resolve(ref Reference) (interface{}, error) {
	if ref.IsSecret {
		if r.Secret == nil {
			return nil, nil
		}
		v, err := r.Secret(ref.Path)
		if err != nil {
			return nil, nil
		}
		return v, nil
	}

	sd := r.scope(ref.Scope)
	if sd == nil {
		return nil, nil
	}
	return getNested(sd.Data, ref.Path), nil
}

// ResolveString parses and resolves raw in one step.
func (r *Resolver) ResolveString(raw string) (interface{}, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ref)
}

// Set writes value at dotted path within the named scope, creating
// intermediate maps as needed. Returns a ValidationError if the scope
// is read-only or unknown.
func (r *Resolver) Set(scopeName, path string, value interface{}) error {
	if !validScopes[scopeName] {
		return &ValidationError{Msg: fmt.Sprintf("invalid scope %q", scopeName)}
	}
	sd := r.scope(scopeName)
	if sd == nil {
		if err := r.SetScope(scopeName, map[string]interface{}{}, false); err != nil {
			return err
		}
		sd = r.scope(scopeName)
	}
	if sd.ReadOnly {
		return &ValidationError{Msg: fmt.Sprintf("cannot modify read-only scope %q", scopeName)}
	}
	setNested(sd.Data, path, value)
	return nil
}

// stringify renders a resolved value the way substitute_variables
// does: maps/slices as JSON, time.Time as RFC3339, uuid.UUID as its
// canonical string form, everything else via fmt.Sprint.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case time.Time:
		return t.Format(time.RFC3339)
	case uuid.UUID:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// SubstituteVariables scans text for {{...}} references and replaces
// each with its stringified resolved value. Unresolved references are
// kept verbatim when preserveUnresolved is true, else removed.
func (r *Resolver) SubstituteVariables(text string, preserveUnresolved bool) string {
	return referencePattern.ReplaceAllStringFunc(text, func(match string) string {
		inner := strings.TrimSpace(referencePattern.FindStringSubmatch(match)[1])

		ref, err := ParseReference(inner)
		if err != nil {
			if preserveUnresolved {
				return match
			}
			return ""
		}
		value, err := r.Resolve(ref)
		if err != nil || value == nil {
			if preserveUnresolved {
				return match
			}
			return ""
		}
		return stringify(value)
	})
}

// SubstituteObject recurses through obj (string/map[string]interface{}
// /[]interface{}/scalars), substituting variable references. The
// crucial type-preservation rule: when a string is entirely one
// {{...}} reference, the raw resolved value is returned with its
// native type instead of a stringified form; mixed text always
// returns a string.
func (r *Resolver) SubstituteObject(obj interface{}, preserveUnresolved bool) interface{} {
	switch v := obj.(type) {
	case string:
		stripped := strings.TrimSpace(v)
		if m := fullReferencePattern.FindStringSubmatch(stripped); m != nil {
			ref, err := ParseReference(m[1])
			if err != nil {
				if preserveUnresolved {
					return v
				}
				return nil
			}
			value, err := r.Resolve(ref)
			if err != nil {
				if preserveUnresolved {
					return v
				}
				return nil
			}
			if value != nil {
				return value
			}
			if preserveUnresolved {
				return v
			}
			return nil
		}
		return r.SubstituteVariables(v, preserveUnresolved)

	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = r.SubstituteObject(val, preserveUnresolved)
		}
		return out

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = r.SubstituteObject(item, preserveUnresolved)
		}
		return out

	default:
		return obj
	}
}

// ExtractReferences returns every syntactically valid reference found
// in text, skipping malformed ones.
func ExtractReferences(text string) []Reference {
	matches := referencePattern.FindAllStringSubmatch(text, -1)
	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		ref, err := ParseReference(m[1])
		if err == nil {
			refs = append(refs, ref)
		}
	}
	return refs
}

// HasReferences reports whether text contains at least one {{...}}
// occurrence, valid or not.
func HasReferences(text string) bool {
	return referencePattern.MatchString(text)
}

// getNested walks data by dot-separated path, following map keys and
// numeric list indices; any mismatch (missing key, out-of-range
// index, non-navigable intermediate) resolves to nil, never panics.
func getNested(data map[string]interface{}, path string) interface{} {
	keys := strings.Split(path, ".")
	var current interface{} = data

	for _, key := range keys {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[key]
		case []interface{}:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			current = v[idx]
		default:
			return nil
		}
	}
	return current
}

// setNested writes value at dotted path within data, creating
// intermediate maps for missing segments. A segment that exists but
// is not a map is overwritten with a fresh one, matching the
// original's behavior of always creating nested dicts on write.
func setNested(data map[string]interface{}, path string, value interface{}) {
	keys := strings.Split(path, ".")
	current := data

	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
}
