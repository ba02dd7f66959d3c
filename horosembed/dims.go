package horosembed

import "strings"

// DefaultDimension is used for models missing from the table.
const DefaultDimension = 1536

var dimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// DimensionFor returns override when positive, else the known dimension
// of model, else DefaultDimension.
func DimensionFor(model string, override int) int {
	if override > 0 {
		return override
	}
	if d, ok := dimensions[strings.ToLower(strings.TrimSpace(model))]; ok {
		return d
	}
	return DefaultDimension
}
