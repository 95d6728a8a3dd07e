package aas

import "github.com/aausmartlab/btorchestrator/internal/common/apperrors"

// ResolvePropertyPath walks a submodel's submodelElements tree following a
// sequence of idShorts, per spec: at each level, search for an element
// whose idShort matches the current key; on a match at the last key return
// its value; on a match before the last key descend into the child's
// nested elements and recurse with the next key; if no match is found at
// the current level, fall back to recursing into every child's nested
// elements with the *same* key (a breadth-preserving search). The first
// match in document order wins at every level.
func ResolvePropertyPath(submodel map[string]any, path []string) (any, error) {
	if len(path) == 0 {
		return nil, apperrors.DiscoveryStructureError("aas.ResolvePropertyPath", "empty property path")
	}
	elements, _ := submodel["submodelElements"].([]any)
	if v, ok := resolve(elements, path, 0); ok {
		return v, nil
	}
	return nil, apperrors.DiscoveryStructureError("aas.ResolvePropertyPath", "property path not found")
}

func resolve(elements []any, path []string, i int) (any, bool) {
	for _, e := range elements {
		el, ok := e.(map[string]any)
		if !ok {
			continue
		}
		idShort, _ := el["idShort"].(string)
		if idShort != path[i] {
			continue
		}
		if i == len(path)-1 {
			return extractValue(el), true
		}
		if v, ok := resolve(childElements(el), path, i+1); ok {
			return v, true
		}
	}

	for _, e := range elements {
		el, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := resolve(childElements(el), path, i); ok {
			return v, true
		}
	}
	return nil, false
}

// childElements returns the nested submodel-element array of a collection
// (SubmodelElementCollection's "value") or entity ("statements").
func childElements(el map[string]any) []any {
	if children, ok := el["value"].([]any); ok {
		return children
	}
	if children, ok := el["statements"].([]any); ok {
		return children
	}
	return nil
}

// extractValue returns a leaf element's "value" when it is a scalar or an
// array (the latter when the element is itself a collection being returned
// as a terminal path segment), falling back to "valueId", then to whatever
// "value" holds.
func extractValue(el map[string]any) any {
	if v, ok := el["value"]; ok {
		switch v.(type) {
		case string, float64, bool, []any:
			return v
		}
	}
	if v, ok := el["valueId"]; ok {
		return v
	}
	return el["value"]
}
