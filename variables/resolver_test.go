package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *Resolver {
	r := New()
	r.SetScope(ScopeUser, map[string]interface{}{
		"name": "Ada",
		"age":  float64(34),
	}, true)
	r.SetScope(ScopeContext, map[string]interface{}{"locale": "en-US"}, true)
	r.SetScope(ScopeTemp, map[string]interface{}{
		"books": []interface{}{"Alpha", "Beta"},
	}, false)
	return r
}

func TestSubstituteVariablesMixedText(t *testing.T) {
	r := newTestResolver()
	out := r.SubstituteVariables("Hello {{user.name}}, locale {{context.locale}}", true)
	assert.Equal(t, "Hello Ada, locale en-US", out)
}

func TestSubstituteVariablesUnresolved(t *testing.T) {
	r := newTestResolver()
	assert.Equal(t, "{{user.missing}}", r.SubstituteVariables("{{user.missing}}", true))
	assert.Equal(t, "", r.SubstituteVariables("{{user.missing}}", false))
}

func TestSubstituteObjectTypePreservation(t *testing.T) {
	r := newTestResolver()

	// entire string is one reference -> raw typed value
	got := r.SubstituteObject("{{user.age}}", true)
	assert.Equal(t, float64(34), got)

	gotList := r.SubstituteObject("{{temp.books}}", true)
	assert.Equal(t, []interface{}{"Alpha", "Beta"}, gotList)

	// mixed text -> always a string
	gotMixed := r.SubstituteObject("Age: {{user.age}}", true)
	assert.Equal(t, "Age: 34", gotMixed)
}

func TestSubstituteObjectRecursesThroughMapsAndLists(t *testing.T) {
	r := newTestResolver()
	input := map[string]interface{}{
		"greeting": "Hi {{user.name}}",
		"nested": []interface{}{
			map[string]interface{}{"v": "{{user.age}}"},
		},
	}
	out := r.SubstituteObject(input, true).(map[string]interface{})
	assert.Equal(t, "Hi Ada", out["greeting"])
	nested := out["nested"].([]interface{})
	assert.Equal(t, float64(34), nested[0].(map[string]interface{})["v"])
}

func TestSetRejectsReadOnlyScope(t *testing.T) {
	r := newTestResolver()
	err := r.Set(ScopeUser, "name", "Eve")
	require.Error(t, err)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSetWritableScopeCreatesIntermediateMaps(t *testing.T) {
	r := newTestResolver()
	require.NoError(t, r.Set(ScopeTemp, "profile.favorite.color", "blue"))

	v, err := r.Resolve(Reference{Scope: ScopeTemp, Path: "profile.favorite.color"})
	require.NoError(t, err)
	assert.Equal(t, "blue", v)
}

func TestParseReferenceSecret(t *testing.T) {
	ref, err := ParseReference("secret:api_key")
	require.NoError(t, err)
	assert.True(t, ref.IsSecret)
	assert.Equal(t, "api_key", ref.Path)
}

func TestParseReferenceInvalidScope(t *testing.T) {
	_, err := ParseReference("bogus.path")
	assert.Error(t, err)
}

func TestResolveSecretViaCallback(t *testing.T) {
	r := newTestResolver()
	r.Secret = func(key string) (string, error) {
		if key == "api_key" {
			return "shh", nil
		}
		return "", assert.AnError
	}
	v, err := r.ResolveString("secret:api_key")
	require.NoError(t, err)
	assert.Equal(t, "shh", v)
}

func TestListIndexNavigation(t *testing.T) {
	r := newTestResolver()
	v, err := r.Resolve(Reference{Scope: ScopeTemp, Path: "books.1"})
	require.NoError(t, err)
	assert.Equal(t, "Beta", v)

	v, err = r.Resolve(Reference{Scope: ScopeTemp, Path: "books.9"})
	require.NoError(t, err)
	assert.Nil(t, v)
}
