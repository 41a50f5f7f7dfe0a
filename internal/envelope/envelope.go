// Package envelope assembles the fields a lookup response is built from,
// canonicalizes and digests them via canon, signs the digest via gwsign, and
// produces the wire-order tuple the on-chain verifier ABI-decodes. The
// digest-canonical field order (package canon) and the wire field order
// (Envelope.ABIValues) are two separate, fixed contracts; this package is
// the only place both are visible at once, and it must never unify them.
package envelope

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/ensgateway/compute-gateway/internal/canon"
	"github.com/ensgateway/compute-gateway/internal/gwsign"
)

// DefaultCacheTTL is used whenever a build Input omits CacheTTL.
const DefaultCacheTTL = uint64(30)

// Identity names the gateway instance in every envelope's meta object. It is
// fixed at startup and carried into every subsequent build.
type Identity struct {
	Provider string
	Version  string
}

// Input is the builder's argument: the caller-supplied content fields before
// defaulting. Params and Result may be any JSON-marshalable value (a plain
// string is marshaled as-is as a JSON string); the builder takes care of
// turning whatever is passed into the canonical string form the digest
// sees.
type Input struct {
	Name       string
	Method     string
	Params     any
	Result     any
	Cursor     *string
	PrevDigest *[32]byte
	Meta       map[string]any
	CacheTTL   *uint64
}

// Envelope is the fully built, signed record returned to the caller. Cursor
// and PrevDigest remain nil-able so an absent value stays distinguishable
// from an explicit zero all the way out to the JSON response.
type Envelope struct {
	Name       string    `json:"name"`
	Method     string    `json:"method"`
	Params     string    `json:"params"`
	Result     string    `json:"result"`
	Cursor     *string   `json:"cursor"`
	PrevDigest *[32]byte `json:"prev_digest"`
	Meta       string    `json:"meta"`
	CacheTTL   uint64    `json:"cache_ttl"`
	Digest     [32]byte  `json:"digest"`
	Signature  [65]byte  `json:"signature"`
}

// envelopeJSON is the wire shape MarshalJSON/UnmarshalJSON use: digest,
// prev_digest, and signature as "0x"-prefixed hex strings rather than raw
// JSON number arrays, matching the hex convention the rest of the gateway's
// HTTP surface uses for byte fields.
type envelopeJSON struct {
	Name       string  `json:"name"`
	Method     string  `json:"method"`
	Params     string  `json:"params"`
	Result     string  `json:"result"`
	Cursor     *string `json:"cursor"`
	PrevDigest *string `json:"prev_digest"`
	Meta       string  `json:"meta"`
	CacheTTL   uint64  `json:"cache_ttl"`
	Digest     string  `json:"digest"`
	Signature  string  `json:"signature"`
}

// MarshalJSON renders digest/prev_digest/signature as "0x"-prefixed hex.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	var prevDigest *string
	if e.PrevDigest != nil {
		s := "0x" + hex.EncodeToString(e.PrevDigest[:])
		prevDigest = &s
	}
	return json.Marshal(envelopeJSON{
		Name:       e.Name,
		Method:     e.Method,
		Params:     e.Params,
		Result:     e.Result,
		Cursor:     e.Cursor,
		PrevDigest: prevDigest,
		Meta:       e.Meta,
		CacheTTL:   e.CacheTTL,
		Digest:     "0x" + hex.EncodeToString(e.Digest[:]),
		Signature:  "0x" + hex.EncodeToString(e.Signature[:]),
	})
}

// UnmarshalJSON parses the hex wire shape MarshalJSON produces.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	digest, err := decodeHex32(w.Digest)
	if err != nil {
		return fmt.Errorf("envelope: digest: %w", err)
	}
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(w.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("envelope: signature: %w", err)
	}
	var sig [65]byte
	copy(sig[:], sigBytes)

	var prevDigest *[32]byte
	if w.PrevDigest != nil {
		pd, err := decodeHex32(*w.PrevDigest)
		if err != nil {
			return fmt.Errorf("envelope: prev_digest: %w", err)
		}
		prevDigest = &pd
	}

	e.Name = w.Name
	e.Method = w.Method
	e.Params = w.Params
	e.Result = w.Result
	e.Cursor = w.Cursor
	e.PrevDigest = prevDigest
	e.Meta = w.Meta
	e.CacheTTL = w.CacheTTL
	e.Digest = digest
	e.Signature = sig
	return nil
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

// Builder constructs envelopes for a single, fixed Identity and Signer.
type Builder struct {
	identity Identity
	signer   gwsign.Signer
	now      func() time.Time
	nonce    func() string
}

// NewBuilder returns a Builder that stamps every envelope's meta with id and
// signs digests with signer.
func NewBuilder(id Identity, signer gwsign.Signer) *Builder {
	return &Builder{identity: id, signer: signer, now: time.Now, nonce: uuid.NewString}
}

// Build assembles, canonicalizes, digests, and signs an envelope from in,
// applying fixed defaults: missing CacheTTL -> 30; missing Cursor -> null;
// missing PrevDigest -> null; meta always receives a fresh
// provider/version/nonce/timestamp regardless of what the caller passed in
// Meta.
func (b *Builder) Build(in Input) (*Envelope, error) {
	paramsStr, err := toJSONString(in.Params)
	if err != nil {
		return nil, fmt.Errorf("envelope: params: %w", err)
	}
	resultStr, err := toJSONString(in.Result)
	if err != nil {
		return nil, fmt.Errorf("envelope: result: %w", err)
	}

	cacheTTL := DefaultCacheTTL
	if in.CacheTTL != nil {
		cacheTTL = *in.CacheTTL
	}

	metaStr, err := b.buildMeta(in.Meta)
	if err != nil {
		return nil, fmt.Errorf("envelope: meta: %w", err)
	}

	content := canon.Content{
		Name:       in.Name,
		Method:     in.Method,
		Params:     paramsStr,
		Result:     resultStr,
		Meta:       metaStr,
		CacheTTL:   cacheTTL,
		Cursor:     in.Cursor,
		PrevDigest: in.PrevDigest,
	}
	digest := Digest(content)

	sig, err := b.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("envelope: sign: %w", err)
	}

	return &Envelope{
		Name:       in.Name,
		Method:     in.Method,
		Params:     paramsStr,
		Result:     resultStr,
		Cursor:     in.Cursor,
		PrevDigest: in.PrevDigest,
		Meta:       metaStr,
		CacheTTL:   cacheTTL,
		Digest:     digest,
		Signature:  sig,
	}, nil
}

// buildMeta starts from the caller-supplied meta object (or an empty one,
// per the "{}" default) and overwrites provider, version, nonce, and
// timestamp, which the builder alone is responsible for.
func (b *Builder) buildMeta(in map[string]any) (string, error) {
	meta := make(map[string]any, len(in)+4)
	for k, v := range in {
		meta[k] = v
	}
	meta["provider"] = b.identity.Provider
	meta["version"] = b.identity.Version
	meta["nonce"] = b.nonce()
	meta["timestamp"] = b.now().Unix()

	out, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func toJSONString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Digest computes the envelope digest from its content fields:
// digest == keccak256(canonicalize(content)). Exposed standalone so the
// verifier-side round trip (ABI-decode -> recompute -> compare) can call it
// without going through a Builder.
func Digest(c canon.Content) [32]byte {
	return [32]byte(crypto.Keccak256Hash(canon.Canonicalize(c)))
}

// abiTupleArgs describes the wire-order ABI tuple
// (string,string,string,string,string,bytes32,string,uint256,bytes32,bytes),
// the on-chain decodable shape, distinct from the digest-canonical field
// order.
var abiTupleArgs = mustTupleArgs()

func mustTupleArgs() abi.Arguments {
	str, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	b32, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}
	u256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	bts, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Type: str},  // name
		{Type: str},  // method
		{Type: str},  // params
		{Type: str},  // result
		{Type: str},  // cursor
		{Type: b32},  // prev_digest
		{Type: str},  // meta
		{Type: u256}, // cache_ttl
		{Type: b32},  // digest
		{Type: bts},  // signature
	}
}

// ABIEncode packs e in wire order. Absent Cursor encodes as the empty
// string; absent PrevDigest encodes as 32 zero bytes — both ONLY on the
// wire, never in the digest preimage.
func (e *Envelope) ABIEncode() ([]byte, error) {
	cursor := ""
	if e.Cursor != nil {
		cursor = *e.Cursor
	}
	var prevDigest [32]byte
	if e.PrevDigest != nil {
		prevDigest = *e.PrevDigest
	}
	return abiTupleArgs.Pack(
		e.Name,
		e.Method,
		e.Params,
		e.Result,
		cursor,
		prevDigest,
		e.Meta,
		new(big.Int).SetUint64(e.CacheTTL),
		e.Digest,
		e.Signature[:],
	)
}

// ABIDecode unpacks a wire-order tuple produced by ABIEncode. An all-zero
// prev_digest and an empty cursor decode back to nil, NOT to a present zero
// value, so that re-digesting the decoded content reproduces the original
// digest; this is the verifier-side mirror of
// ABIEncode's absent-field wire rule.
func ABIDecode(data []byte) (*Envelope, error) {
	values, err := abiTupleArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("envelope: abi decode: %w", err)
	}
	if len(values) != 10 {
		return nil, fmt.Errorf("envelope: abi decode: expected 10 fields, got %d", len(values))
	}

	name, _ := values[0].(string)
	method, _ := values[1].(string)
	params, _ := values[2].(string)
	result, _ := values[3].(string)
	cursorWire, _ := values[4].(string)
	prevDigestWire, _ := values[5].([32]byte)
	meta, _ := values[6].(string)
	cacheTTLBig, _ := values[7].(*big.Int)
	digest, _ := values[8].([32]byte)
	sigBytes, _ := values[9].([]byte)

	var cursor *string
	if cursorWire != "" {
		cursor = &cursorWire
	}
	var prevDigest *[32]byte
	if prevDigestWire != ([32]byte{}) {
		pd := prevDigestWire
		prevDigest = &pd
	}

	var sig [65]byte
	copy(sig[:], sigBytes)

	var cacheTTL uint64
	if cacheTTLBig != nil {
		cacheTTL = cacheTTLBig.Uint64()
	}

	return &Envelope{
		Name:       name,
		Method:     method,
		Params:     params,
		Result:     result,
		Cursor:     cursor,
		PrevDigest: prevDigest,
		Meta:       meta,
		CacheTTL:   cacheTTL,
		Digest:     digest,
		Signature:  sig,
	}, nil
}

// Content returns the canon.Content view of e, suitable for recomputing the
// digest independently of how e was built.
func (e *Envelope) Content() canon.Content {
	return canon.Content{
		Name:       e.Name,
		Method:     e.Method,
		Params:     e.Params,
		Result:     e.Result,
		Meta:       e.Meta,
		CacheTTL:   e.CacheTTL,
		Cursor:     e.Cursor,
		PrevDigest: e.PrevDigest,
	}
}
