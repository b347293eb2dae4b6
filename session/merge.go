package session

// DeepMerge implements the state-update semantics of spec §4.4.2: for
// each top-level scope key in update, if both the existing and update
// values are maps, merge recursively; otherwise the update value
// overwrites (this includes lists, which never merge element-wise,
// and explicit nil, which is how callers implement "clear"). dest is
// mutated and returned.
func DeepMerge(dest, update map[string]interface{}) map[string]interface{} {
	if dest == nil {
		dest = map[string]interface{}{}
	}
	for k, v := range update {
		existing, bothMaps := dest[k].(map[string]interface{})
		incoming, incomingIsMap := v.(map[string]interface{})
		if bothMaps && incomingIsMap {
			dest[k] = DeepMerge(existing, incoming)
			continue
		}
		dest[k] = v
	}
	return dest
}
