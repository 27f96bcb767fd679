// Package fingerprint produces deterministic identities for ingested mentions
// so replayed messages and resumed resolution runs never create duplicates.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

// Mention creates the fingerprint for a mention: the same text observed at
// the same position in the same document always hashes to the same value.
func Mention(corpusID, entityType, text, sourceDocID string, sentenceIndex *int) string {
	sentence := ""
	if sentenceIndex != nil {
		sentence = strconv.Itoa(*sentenceIndex)
	}
	return Generate(map[string]any{
		"corpus_id":      corpusID,
		"entity_type":    entityType,
		"text":           text,
		"source_doc_id":  sourceDocID,
		"sentence_index": sentence,
	})
}

// Generate creates a deterministic fingerprint for arbitrary data.
// The fingerprint is a SHA256 hash of the canonicalized JSON.
func Generate(data map[string]any) string {
	canonical := canonicalize(data)
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// GenerateFromJSON creates a fingerprint from raw JSON
func GenerateFromJSON(data json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	return Generate(m), nil
}

// canonicalize creates a deterministic string representation of a value
// by sorting keys and recursively processing nested structures
func canonicalize(data any) string {
	switch v := data.(type) {
	case map[string]any:
		return canonicalizeMap(v)
	case []any:
		return canonicalizeArray(v)
	default:
		// For primitives, use JSON encoding
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func canonicalizeMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := "{"
	for i, k := range keys {
		if i > 0 {
			result += ","
		}
		keyJSON, _ := json.Marshal(k)
		result += string(keyJSON) + ":" + canonicalize(m[k])
	}
	result += "}"
	return result
}

func canonicalizeArray(arr []any) string {
	result := "["
	for i, v := range arr {
		if i > 0 {
			result += ","
		}
		result += canonicalize(v)
	}
	result += "]"
	return result
}
