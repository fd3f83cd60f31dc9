package receipt

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

var receiptSchema = jsonschema.MustCompileString("receipt.schema.json", schemaJSON)

// Parse validates an untyped JSON tree against the receipt schema and builds
// a Receipt from it. Unknown keys are ignored. Numbers written as decimal
// strings ("21.60") are accepted. On failure no Receipt is returned.
func Parse(doc map[string]any) (*Receipt, error) {
	// Round-trip so the validator only sees plain JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding receipt data: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decoding receipt data: %w", err)
	}
	if coerceNumbers(tree) {
		if raw, err = json.Marshal(tree); err != nil {
			return nil, fmt.Errorf("encoding receipt data: %w", err)
		}
	}

	if err := receiptSchema.Validate(tree); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, &ValidationError{Messages: violations(verr)}
		}
		return nil, fmt.Errorf("validating receipt data: %w", err)
	}

	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &ValidationError{Messages: []string{err.Error()}}
	}
	return &r, nil
}

// violations flattens the validator's error tree into one message per leaf.
func violations(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, err.Message)}
	}
	var out []string
	for _, c := range err.Causes {
		out = append(out, violations(c)...)
	}
	return out
}

var decimalString = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// numberFields lists the numeric keys of each object in the receipt tree.
var numberFields = map[string][]string{
	"totals":        {"subtotal", "sales_tax", "grand_total"},
	"return_policy": {"return_window_days"},
	"items":         {"quantity", "unit_price", "total_price"},
}

// coerceNumbers rewrites decimal strings in numeric fields as numbers and
// reports whether anything changed. Anything else is left for the schema
// to reject.
func coerceNumbers(tree any) bool {
	root, ok := tree.(map[string]any)
	if !ok {
		return false
	}

	changed := false
	coerce := func(obj any, keys []string) {
		m, ok := obj.(map[string]any)
		if !ok {
			return
		}
		for _, k := range keys {
			s, ok := m[k].(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if !decimalString.MatchString(s) {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				m[k] = f
				changed = true
			}
		}
	}

	for section, keys := range numberFields {
		if items, ok := root[section].([]any); ok {
			for _, item := range items {
				coerce(item, keys)
			}
			continue
		}
		coerce(root[section], keys)
	}
	return changed
}
