// Package jsonutil decodes JSON replies from Gemini. Replies requested with a
// response schema must be the JSON document and nothing else, so decoding is
// strict: no fence stripping, no prose extraction, no trailing content.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrEmpty is returned when the reply contains no text at all.
var ErrEmpty = errors.New("empty JSON text")

// previewLen caps how much of a bad reply is echoed into error messages.
const previewLen = 200

// Preview truncates raw for inclusion in an error or log line. The cut
// never splits a UTF-8 sequence.
func Preview(raw string) string {
	if len(raw) <= previewLen {
		return raw
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return raw[:cut] + "..."
}

// DecodeStrict unmarshals raw into T. Leading and trailing whitespace is
// allowed; anything else around the single JSON value is an error.
func DecodeStrict[T any](raw string) (T, error) {
	var zero T

	text := strings.TrimSpace(raw)
	if text == "" {
		return zero, ErrEmpty
	}

	dec := json.NewDecoder(strings.NewReader(text))
	var result T
	if err := dec.Decode(&result); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(text))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return zero, fmt.Errorf("unexpected content after JSON value (text: %s)", Preview(text))
	}
	return result, nil
}
