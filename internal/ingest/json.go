package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"rescuerover/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap flattens one level of obj. Arrays such as a position
// become "[x y]".
func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	kv := make(map[string]string, len(obj))
	for key, val := range obj {
		if val == nil {
			continue
		}
		kv[strings.ToLower(key)] = fmt.Sprint(val)
	}
	return normalize.FromMap(kv)
}
