package webhook

import (
	"fmt"
	"sort"
	"strings"
)

const shapeMaxDepth = 3

// StructureShape renders the key structure of a payload as a compact,
// deterministic string, e.g. {contactId,meta:{source},tags:[]}. Values are
// dropped, keys are sorted, nesting is capped so pathological payloads stay
// bounded. Two payloads with the same field layout produce the same shape.
func StructureShape(raw map[string]interface{}) string {
	return shapeOf(raw, 0)
}

func shapeOf(value interface{}, depth int) string {
	switch v := value.(type) {
	case map[string]interface{}:
		if depth >= shapeMaxDepth {
			return "{...}"
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			switch child := v[k].(type) {
			case map[string]interface{}:
				parts = append(parts, fmt.Sprintf("%s:%s", k, shapeOf(child, depth+1)))
			case []interface{}:
				parts = append(parts, fmt.Sprintf("%s:%s", k, shapeOf(child, depth+1)))
			default:
				parts = append(parts, k)
			}
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []interface{}:
		if len(v) == 0 || depth >= shapeMaxDepth {
			return "[]"
		}
		// The first element stands in for the whole array.
		return "[" + shapeOf(v[0], depth+1) + "]"
	default:
		return ""
	}
}
