// Package calldata bridges the two call-data shapes a lookup request may
// carry — ABI-encoded bytes per EIP-3668's off-chain lookup directive, or
// plain JSON from an SDK bypassing it — into a single (method, params) pair
// for the dispatcher. The three input shapes are modeled as a
// tagged decode rather than runtime type-switching sprinkled through the
// pipeline.
package calldata

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DefaultMethod, paired with an empty params map, is the permissive fallback
// the decoder returns whenever data is empty or cannot be decoded under any
// of the three shapes. This is a deliberate policy choice, not an oversight: malformed
// input falls back to a default rather than rejecting with 400.
const DefaultMethod = "pricefeed"

var callDataArgs = mustTupleArgs()

func mustTupleArgs() abi.Arguments {
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	bytesTy, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: stringTy}, {Type: bytesTy}}
}

// Decode converts the raw `data` field of a lookup request into
// (methodName, params). raw is the JSON-encoded form of that field exactly
// as it appeared in the request body: a JSON string (hex or embedded JSON
// text) or a JSON object.
func Decode(raw json.RawMessage) (string, map[string]any) {
	if len(raw) == 0 {
		return DefaultMethod, map[string]any{}
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return decodeString(asString)
	}

	var asObject map[string]any
	if err := json.Unmarshal(raw, &asObject); err == nil {
		return fromObject(asObject)
	}

	return DefaultMethod, map[string]any{}
}

// decodeString handles shapes 1 and 2: a "0x"-prefixed ABI-encoded string,
// or a JSON string containing embedded JSON text.
func decodeString(s string) (string, map[string]any) {
	if s == "" {
		return DefaultMethod, map[string]any{}
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return decodeHexTuple(s)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return DefaultMethod, map[string]any{}
	}
	return fromObject(obj)
}

// decodeHexTuple ABI-decodes the tuple (string, bytes): the first component
// is the method name, the second is the UTF-8 JSON object that becomes
// params.
func decodeHexTuple(hexStr string) (string, map[string]any) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X"))
	if err != nil {
		return DefaultMethod, map[string]any{}
	}
	values, err := callDataArgs.Unpack(raw)
	if err != nil || len(values) != 2 {
		return DefaultMethod, map[string]any{}
	}
	method, ok := values[0].(string)
	if !ok {
		return DefaultMethod, map[string]any{}
	}
	paramsBytes, ok := values[1].([]byte)
	if !ok {
		return DefaultMethod, map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal(paramsBytes, &params); err != nil {
		return DefaultMethod, map[string]any{}
	}
	return method, params
}

// fromObject handles shape 3: an already-parsed structured object carrying
// `function` and `params` directly.
func fromObject(obj map[string]any) (string, map[string]any) {
	method, _ := obj["function"].(string)
	if method == "" {
		return DefaultMethod, map[string]any{}
	}
	params, _ := obj["params"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	return method, params
}

// EncodeHexTuple ABI-encodes (method, json(params)) as the (string, bytes)
// tuple, "0x"-prefixed. It is the inverse of decodeHexTuple and exists for
// callers constructing EIP-3668-shaped call data (and for round-trip tests).
func EncodeHexTuple(method string, paramsJSON []byte) (string, error) {
	packed, err := callDataArgs.Pack(method, paramsJSON)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(packed), nil
}
