package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// TokenPrefix versions the QR payload format.
const TokenPrefix = "HT1."

// VerificationToken is the tamper-evidence reference embedded in a QR code.
type VerificationToken struct {
	BatchID        string        `json:"b"`
	SequenceNumber int64         `json:"s"`
	ContentHash    string        `json:"h"`
	Algorithm      HashAlgorithm `json:"a"`
}

// Encode renders the token as its compact QR string.
func (t VerificationToken) Encode() string {
	raw, _ := json.Marshal(t)
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeToken parses a QR string produced by Encode.
func DecodeToken(s string) (VerificationToken, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, TokenPrefix) {
		return VerificationToken{}, Invalid("token", "missing %s prefix", TokenPrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, TokenPrefix))
	if err != nil {
		return VerificationToken{}, Invalid("token", "decode token: %v", err)
	}
	var t VerificationToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return VerificationToken{}, Invalid("token", "parse token: %v", err)
	}
	if t.BatchID == "" || t.SequenceNumber < 1 || t.ContentHash == "" {
		return VerificationToken{}, Invalid("token", "token is incomplete")
	}
	return t, nil
}

// VerificationStatus is the outcome of checking a token.
type VerificationStatus string

// Verification outcomes.
const (
	VerificationValid    VerificationStatus = "Valid"
	VerificationTampered VerificationStatus = "Tampered"
	VerificationUnknown  VerificationStatus = "Unknown"
)

// VerificationResult reports a token check.
type VerificationResult struct {
	Status       VerificationStatus `json:"status"`
	BatchID      string             `json:"batchId,omitempty"`
	State        State              `json:"state,omitempty"`
	HeadSequence int64              `json:"headSequence,omitempty"`
	Superseded   bool               `json:"superseded"`
	Reason       string             `json:"reason,omitempty"`
}

func (r VerificationResult) String() string {
	if r.Reason == "" {
		return string(r.Status)
	}
	return fmt.Sprintf("%s: %s", r.Status, r.Reason)
}
