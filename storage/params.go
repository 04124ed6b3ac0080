package storage

import "fmt"

// Params are the backend-specific fields of a storage manifest.
type Params map[string]any

// String returns a string parameter, "" when absent.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Bool returns a boolean parameter, false when absent.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Map returns a nested mapping parameter. YAML decoding may produce
// either string-keyed or any-keyed maps; both are accepted.
func (p Params) Map(key string) (Params, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return Params(v), nil
	case Params:
		return v, nil
	case map[any]any:
		out := make(Params, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("storage: param %q has non-string key %v", key, k)
			}
			out[ks] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("storage: param %q is not a mapping", key)
	}
}
