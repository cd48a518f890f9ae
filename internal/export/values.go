package export

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"corpusgrid/internal/fieldtype"
)

// DisplayValue renders a stored cell value as export text. Values
// arrive either freshly validated (int64, float64, []string) or after
// a jsonb round-trip (float64, []any, map[string]any), so both shapes
// are handled.
func DisplayValue(dataType fieldtype.DataType, value any) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		if dataType == fieldtype.TypeInteger || v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []string:
		return strings.Join(v, "; ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, DisplayValue(dataType, item))
		}
		return strings.Join(parts, "; ")
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
