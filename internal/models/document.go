package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is a stored record in its JSON object form.
type Document map[string]any

// ID returns the record id as a string.
func (d Document) ID() string {
	return d.String("id")
}

// String returns the value of key when it is a string, or "" otherwise.
func (d Document) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// Time parses key as an RFC 3339 timestamp.
func (d Document) Time(key string) (time.Time, bool) {
	s, ok := d[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Clone returns a deep copy. Values are normalized to their JSON types.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out, err := Normalize(d)
	if err != nil {
		// Documents only hold JSON-encodable values once stored.
		panic(fmt.Sprintf("models: clone document: %v", err))
	}
	return out
}

// Merge copies every key of patch into d.
func (d Document) Merge(patch Document) {
	for k, v := range patch {
		d[k] = v
	}
}

// Set stores v under key after converting it to its JSON form.
func (d Document) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	d[key] = normalized
	return nil
}

// Normalize converts any JSON-encodable value into a Document.
func Normalize(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Decode converts a document into a typed record.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// FormatTime renders t the way timestamps are stored in documents.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
