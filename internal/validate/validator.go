// Package validate sanitizes and rejects malformed lookup/compute request
// bodies before they reach the decoder or dispatcher. It mutates
// the body in place on success, or returns a list of human-readable reasons
// on failure; the pipeline turns a non-empty reason list into the fixed 400
// response shape.
package validate

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ensgateway/compute-gateway/internal/ensname"
)

// MaxDataBytes is the size bound on the request's raw `data` field. Response
// size is not checked.
const MaxDataBytes = 100 * 1024

// MaxParamStringLen is the per-field truncation length applied to
// string-valued params entries.
const MaxParamStringLen = 1000

// MaxNameLen is the maximum accepted length of the `name` field.
const MaxNameLen = 255

var ensNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]+\.eth$`)

// Body is the mutable request shape the validator operates on. Node, Name,
// and Data are optional; Params, when present, must be a JSON object.
type Body struct {
	Node   string          `json:"node,omitempty"`
	Name   string          `json:"name,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Params map[string]any  `json:"params,omitempty"`
}

// Validate checks and sanitizes b in place, returning a (possibly empty)
// list of failure reasons. b is only safe to use downstream when the
// returned slice is empty.
func Validate(b *Body) []string {
	var reasons []string

	if len(b.Data) > MaxDataBytes {
		reasons = append(reasons, "Request data too large (max 100KB)")
	}

	if b.Node != "" && !validNode(b.Node) {
		reasons = append(reasons, "Invalid node parameter")
	}

	if b.Name != "" {
		sanitized := sanitizeName(b.Name)
		if !validName(sanitized) {
			reasons = append(reasons, "Invalid ENS name")
		} else {
			b.Name = sanitized
		}
	}

	if b.Params != nil {
		sanitizeParams(b.Params)
	}

	return reasons
}

// validNode accepts a "0x"-prefixed 66-char hex node, or any string the
// namehash algorithm can accept.
func validNode(node string) bool {
	if isHex66(node) {
		return true
	}
	return ensname.LooksLikeNamehashable(node)
}

func isHex66(s string) bool {
	if len(s) != 66 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// sanitizeName strips NUL bytes and trims surrounding whitespace before the
// pattern/length check runs.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	return strings.TrimSpace(name)
}

func validName(name string) bool {
	return len(name) <= MaxNameLen && ensNamePattern.MatchString(name)
}

// sanitizeParams truncates every string-valued entry to MaxParamStringLen
// characters and strips NUL bytes, mutating the map in place. Truncation
// counts runes, not bytes, so multi-byte UTF-8 input is cut on a character
// boundary instead of producing an invalid partial encoding.
func sanitizeParams(params map[string]any) {
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.ReplaceAll(s, "\x00", "")
		if utf8.RuneCountInString(s) > MaxParamStringLen {
			runes := []rune(s)
			s = string(runes[:MaxParamStringLen])
		}
		params[k] = s
	}
}
