package packml

import "strings"

// findByIdShort performs the same two-pass (current-level-first, then
// descend) traversal as interfacecache's structural element lookup,
// applied here to a RequiredCapabilities submodel's capability/References
// layout rather than an AssetInterfacesDescription.
func findByIdShort(elements []any, idShort string) (map[string]any, bool) {
	for _, raw := range elements {
		el, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := el["idShort"].(string); s == idShort {
			return el, true
		}
	}
	for _, raw := range elements {
		el, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if found, ok := findByIdShort(childElementsOf(el), idShort); ok {
			return found, true
		}
	}
	return nil, false
}

func childElementsOf(el map[string]any) []any {
	if v, ok := el["value"].([]any); ok {
		return v
	}
	if v, ok := el["statements"].([]any); ok {
		return v
	}
	return nil
}

// shellIDFromSubmodelPath derives an AAS shell id from a ModelReference's
// submodel key value of the shape ".../submodels/instances/{idShort}/...",
// per STARTING step 2: shell = "{base}/aas/{idShort}".
func shellIDFromSubmodelPath(path string) (string, bool) {
	const marker = "/submodels/instances/"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return "", false
	}
	base := path[:idx]
	rest := path[idx+len(marker):]
	idShort := rest
	if slash := strings.Index(rest, "/"); slash >= 0 {
		idShort = rest[:slash]
	}
	if idShort == "" {
		return "", false
	}
	return base + "/aas/" + idShort, true
}

// referenceShellID extracts the shell id a ReferenceElement points at:
// its "value" is a ModelReference object carrying a "keys" array whose
// last key's "value" is the submodel path.
func referenceShellID(el map[string]any) (string, bool) {
	ref, ok := el["value"].(map[string]any)
	if !ok {
		return "", false
	}
	keys, _ := ref["keys"].([]any)
	if len(keys) == 0 {
		return "", false
	}
	last, ok := keys[len(keys)-1].(map[string]any)
	if !ok {
		return "", false
	}
	path, _ := last["value"].(string)
	return shellIDFromSubmodelPath(path)
}

// buildEquipmentFromCapabilities walks a RequiredCapabilities submodel's
// elements, enumerating every ReferenceElement nested under a
// "References" collection and mapping its own idShort (the asset name)
// to the shell id its reference resolves to.
func buildEquipmentFromCapabilities(doc map[string]any) map[string]string {
	equipment := make(map[string]string)
	elements, _ := doc["submodelElements"].([]any)
	walkCapabilities(elements, equipment)
	return equipment
}

func walkCapabilities(elements []any, equipment map[string]string) {
	for _, raw := range elements {
		capability, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		refsEl, ok := findByIdShort(childElementsOf(capability), "References")
		if !ok {
			continue
		}
		for _, refRaw := range childElementsOf(refsEl) {
			refEl, ok := refRaw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := refEl["idShort"].(string)
			shellID, ok := referenceShellID(refEl)
			if name == "" || !ok {
				continue
			}
			equipment[name] = shellID
		}
	}
}
