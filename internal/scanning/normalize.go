package scanning

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Document is an untyped JSON object produced by a model, before schema validation.
type Document map[string]any

// Normalize extracts a single JSON object from free-form model output.
//
// The whole text is parsed strictly first so clean responses containing nested
// braces are never truncated. Otherwise the widest brace-delimited span is tried,
// followed by every "{" in order of appearance; the first object that decodes wins.
func Normalize(text string) (Document, error) {
	if doc, ok := decodeObject([]byte(text)); ok {
		return doc, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return nil, ErrNoStructuredData
	}

	if doc, ok := decodeObject([]byte(text[start : end+1])); ok {
		return doc, nil
	}

	for i := start; i <= end; i++ {
		if text[i] != '{' {
			continue
		}
		if doc, ok := decodeLeadingObject(text[i : end+1]); ok {
			return doc, nil
		}
	}

	return nil, ErrNoStructuredData
}

// decodeObject parses data as exactly one JSON object.
func decodeObject(data []byte) (Document, bool) {
	var doc Document
	if err := json.Unmarshal(bytes.TrimSpace(data), &doc); err != nil || doc == nil {
		return nil, false
	}
	return doc, true
}

// decodeLeadingObject parses the object that starts at the beginning of s,
// ignoring whatever follows it.
func decodeLeadingObject(s string) (Document, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var doc Document
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return nil, false
	}
	return doc, true
}
