// Package canon produces the canonical byte preimage that the signer digests
// and the on-chain verifier reconstructs. The grammar is intentionally not a
// generic JSON encoder: field order, null handling, and string quoting are
// all fixed contracts shared with the verifier.
package canon

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// Content is the set of envelope fields the digest is computed over. It
// never includes the digest or signature themselves.
type Content struct {
	Name     string
	Method   string
	Params   string
	Result   string
	Meta     string
	CacheTTL uint64

	// Cursor is nil when the field is absent; the zero value ("") is a
	// valid, present, empty cursor and must NOT be confused with absence.
	Cursor *string

	// PrevDigest is nil when the field is absent.
	PrevDigest *[32]byte
}

// Canonicalize emits the deterministic preimage bytes: an ASCII-lexicographic
// ordered JSON object, no whitespace, no trailing comma, with fixed quoting
// rules. The on-chain verifier's canonicalizer is line-for-line this same
// algorithm, so nothing here may change without a matching change there.
//
// Keys are emitted in this fixed order (already ASCII-lexicographic):
// cache_ttl, cursor, meta, method, name, params, prev_digest, result.
func Canonicalize(c Content) []byte {
	var b strings.Builder
	b.Grow(128 + len(c.Name) + len(c.Method) + len(c.Params) + len(c.Result) + len(c.Meta))

	b.WriteByte('{')

	b.WriteString(`"cache_ttl":`)
	b.WriteString(strconv.FormatUint(c.CacheTTL, 10))
	b.WriteByte(',')

	b.WriteString(`"cursor":`)
	writeNullableString(&b, c.Cursor)
	b.WriteByte(',')

	b.WriteString(`"meta":`)
	writeQuoted(&b, c.Meta)
	b.WriteByte(',')

	b.WriteString(`"method":`)
	writeQuoted(&b, c.Method)
	b.WriteByte(',')

	b.WriteString(`"name":`)
	writeQuoted(&b, c.Name)
	b.WriteByte(',')

	b.WriteString(`"params":`)
	writeQuoted(&b, c.Params)
	b.WriteByte(',')

	b.WriteString(`"prev_digest":`)
	writePrevDigest(&b, c.PrevDigest)
	b.WriteByte(',')

	b.WriteString(`"result":`)
	writeQuoted(&b, c.Result)

	b.WriteByte('}')

	return []byte(b.String())
}

// writeQuoted wraps s in double quotes with NO escaping of its content.
// Callers must pre-escape any field that could contain '"', '\', or control
// bytes.
func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	b.WriteString(s)
	b.WriteByte('"')
}

func writeNullableString(b *strings.Builder, s *string) {
	if s == nil {
		b.WriteString("null")
		return
	}
	writeQuoted(b, *s)
}

func writePrevDigest(b *strings.Builder, d *[32]byte) {
	if d == nil {
		b.WriteString("null")
		return
	}
	b.WriteByte('"')
	b.WriteString("0x")
	b.WriteString(hex.EncodeToString(d[:]))
	b.WriteByte('"')
}
