package facet

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

var tokenJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	tokenFormatVersion = 1

	// tokenDigestSize bytes of a blake3 digest prefix the payload. The
	// digest detects corruption and caller-side mutation; it is not a
	// MAC and does not authenticate the token's origin.
	tokenDigestSize = 16

	// maxTokenPayloadSize caps the decompressed payload so a forged token
	// cannot act as a decompression bomb.
	maxTokenPayloadSize = 16 * 1024 * 1024 // 16MB
)

// -----------------------------------------------------------------------------
// Composite continuation token
// -----------------------------------------------------------------------------

// backendState is one backend's slot in the composite token: the cursor
// the backend handed back, plus entries already fetched from that backend
// but not yet emitted. Carryover lives here because a backend page
// boundary may split an association cluster.
type backendState struct {
	BackendID string            `json:"id"`
	Cursor    Cursor            `json:"cursor"`
	Carryover []ClassifiedEntry `json:"carryover,omitempty"`
}

// tokenPayload is the decoded form of a continuation token. The payload
// is versioned so future backend additions do not break old tokens, and
// bound to a fingerprint of the filter so a token cannot resume a
// different query.
type tokenPayload struct {
	Version      int            `json:"v"`
	FilterDigest string         `json:"f"`
	Backends     []backendState `json:"b"`
}

// encodeToken serializes a payload into the opaque, URL-safe token string:
// JSON body, zstd compression, a truncated blake3 digest for tamper
// detection, base64 text encoding. Backends are kept in slice order so
// identical state always encodes to identical bytes.
func encodeToken(payload tokenPayload) (string, error) {
	body, err := tokenJSON.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("facet: marshal token payload: %w", err)
	}

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return "", fmt.Errorf("facet: create token compressor: %w", err)
	}
	if _, err := enc.Write(body); err != nil {
		_ = enc.Close()
		return "", fmt.Errorf("facet: compress token payload: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("facet: compress token payload: %w", err)
	}

	digest := blake3.Sum256(compressed.Bytes())
	raw := make([]byte, 0, tokenDigestSize+compressed.Len())
	raw = append(raw, digest[:tokenDigestSize]...)
	raw = append(raw, compressed.Bytes()...)

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeToken parses and verifies a token string. Every failure mode —
// bad text encoding, digest mismatch, truncation, unknown version, filter
// mismatch — maps to ErrInvalidToken so the caller restarts the search
// explicitly instead of getting a silently reset cursor.
func decodeToken(token, filterDigest string) (tokenPayload, error) {
	var payload tokenPayload

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(raw) <= tokenDigestSize {
		return payload, fmt.Errorf("%w: truncated", ErrInvalidToken)
	}

	compressed := raw[tokenDigestSize:]
	digest := blake3.Sum256(compressed)
	if subtle.ConstantTimeCompare(raw[:tokenDigestSize], digest[:tokenDigestSize]) != 1 {
		return payload, fmt.Errorf("%w: digest mismatch", ErrInvalidToken)
	}

	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	defer dec.Close()

	body, err := io.ReadAll(io.LimitReader(dec.IOReadCloser(), maxTokenPayloadSize))
	if err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := tokenJSON.Unmarshal(body, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if payload.Version != tokenFormatVersion {
		return payload, fmt.Errorf("%w: unsupported version %d", ErrInvalidToken, payload.Version)
	}
	if payload.FilterDigest != filterDigest {
		return payload, fmt.Errorf("%w: token was issued for a different filter", ErrInvalidToken)
	}

	return payload, nil
}

// fingerprintFilter produces a stable digest binding a token to its
// filter. Map keys are sorted by the JSON encoder, so equal filters always
// fingerprint identically.
func fingerprintFilter(filter SearchFilter) (string, error) {
	body, err := tokenJSON.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("facet: fingerprint filter: %w", err)
	}
	digest := blake3.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(digest[:tokenDigestSize]), nil
}
