// Package wire converts between native Go values and the type-tagged attribute
// value representation used on the DynamoDB JSON protocol.
//
// Native values follow the shapes produced by encoding/json decoding:
//
//	nil            -> {"NULL": true}
//	string         -> {"S": "..."}
//	float64 (etc.) -> {"N": "..."}
//	bool           -> {"BOOL": true}
//	[]any          -> {"L": [...]}
//	map[string]any -> {"M": {...}}
//
// # Narrowing
//
// The backend has no first-class empty string and no NaN, so both are encoded
// as NULL. Decoding therefore yields nil for them: Unmarshal(Marshal(v)) == v
// holds for every supported value except "" and NaN. This is intentional.
//
// Functions and channels are omitted: dropped from lists and maps rather than
// encoded as NULL. Structs, complex numbers and other unsupported kinds fail
// with [ErrUnsupportedType].
package wire
