package aas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePropertyPathDirectMatch(t *testing.T) {
	submodel := map[string]any{
		"submodelElements": []any{
			map[string]any{"idShort": "Speed", "value": "42"},
		},
	}
	v, err := ResolvePropertyPath(submodel, []string{"Speed"})
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestResolvePropertyPathDescendsIntoCollection(t *testing.T) {
	submodel := map[string]any{
		"submodelElements": []any{
			map[string]any{
				"idShort": "Motor",
				"value": []any{
					map[string]any{"idShort": "Speed", "value": "7"},
				},
			},
		},
	}
	v, err := ResolvePropertyPath(submodel, []string{"Motor", "Speed"})
	require.NoError(t, err)
	assert.Equal(t, "7", v)
}

func TestResolvePropertyPathBreadthFallback(t *testing.T) {
	submodel := map[string]any{
		"submodelElements": []any{
			map[string]any{
				"idShort": "Wrapper",
				"value": []any{
					map[string]any{"idShort": "Target", "value": "found"},
				},
			},
		},
	}
	// "Target" is not present at the top level, only nested under "Wrapper";
	// the breadth-preserving fallback must find it without naming "Wrapper".
	v, err := ResolvePropertyPath(submodel, []string{"Target"})
	require.NoError(t, err)
	assert.Equal(t, "found", v)
}

func TestResolvePropertyPathNotFound(t *testing.T) {
	submodel := map[string]any{"submodelElements": []any{}}
	_, err := ResolvePropertyPath(submodel, []string{"Missing"})
	assert.Error(t, err)
}
