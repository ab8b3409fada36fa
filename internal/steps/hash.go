package steps

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ParamsHash computes a content-addressed hash of a step's type and params.
//
// The hash is computed over canonical JSON, so two params values that encode
// the same content always hash identically regardless of field order or
// Unicode normalization of their inputs. The store records the hash beside
// every saved step and re-checks it on load.
func ParamsHash(p Params) (string, error) {
	plain, err := ToPlain(p)
	if err != nil {
		return "", err
	}
	envelope := map[string]any{
		"type":   string(p.StepType()),
		"params": plain,
	}
	data, err := MarshalCanonical(envelope)
	if err != nil {
		return "", fmt.Errorf("params hash for %s: %w", p.StepType(), err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MustParamsHash is ParamsHash for values known to be hashable.
// Panics on error; intended for tests and fixtures.
func MustParamsHash(p Params) string {
	h, err := ParamsHash(p)
	if err != nil {
		panic(fmt.Sprintf("params hash: %v", err))
	}
	return h
}
