package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// HashAlgorithm names the digest used for the custody chain.
type HashAlgorithm string

// Supported digests.
const (
	HashSHA256 HashAlgorithm = "sha256"
	HashBLAKE3 HashAlgorithm = "blake3"
)

// ZeroHash is the previousHash of the first event in every ledger.
var ZeroHash = strings.Repeat("0", 64)

// Hasher computes content hashes for custody events.
type Hasher struct {
	alg HashAlgorithm
	sum func([]byte) [32]byte
}

// NewHasher returns a hasher for alg. An empty name selects SHA-256.
func NewHasher(alg HashAlgorithm) (Hasher, error) {
	switch HashAlgorithm(strings.ToLower(string(alg))) {
	case "", HashSHA256:
		return Hasher{alg: HashSHA256, sum: sha256.Sum256}, nil
	case HashBLAKE3:
		return Hasher{alg: HashBLAKE3, sum: blake3.Sum256}, nil
	default:
		return Hasher{}, fmt.Errorf("unsupported hash algorithm %q", alg)
	}
}

// DefaultHasher returns the SHA-256 hasher.
func DefaultHasher() Hasher {
	return Hasher{alg: HashSHA256, sum: sha256.Sum256}
}

// Algorithm returns the digest name.
func (h Hasher) Algorithm() HashAlgorithm {
	if h.sum == nil {
		return HashSHA256
	}
	return h.alg
}

func (h Hasher) digest(b []byte) string {
	sum := h.sum
	if sum == nil {
		sum = sha256.Sum256
	}
	d := sum(b)
	return hex.EncodeToString(d[:])
}

// canonicalEvent fixes field order for hashing. Struct field order is the
// serialization order.
type canonicalEvent struct {
	BatchID        string          `json:"batchId"`
	SequenceNumber int64           `json:"sequenceNumber"`
	ActorID        string          `json:"actorId"`
	EventType      EventType       `json:"eventType"`
	Timestamp      string          `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
	PreviousHash   string          `json:"previousHash"`
}

// CanonicalBytes returns the bytes hashed for e. Actor role, id and the
// content hash itself are excluded.
func CanonicalBytes(e CustodyEvent) ([]byte, error) {
	payload := json.RawMessage("null")
	if len(bytes.TrimSpace(e.Payload)) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, e.Payload); err != nil {
			return nil, fmt.Errorf("compact payload: %w", err)
		}
		payload = buf.Bytes()
	}
	return json.Marshal(canonicalEvent{
		BatchID:        e.BatchID,
		SequenceNumber: e.SequenceNumber,
		ActorID:        e.ActorID,
		EventType:      e.EventType,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:        payload,
		PreviousHash:   e.PreviousHash,
	})
}

// ContentHash computes the hex digest of e's canonical form.
func (h Hasher) ContentHash(e CustodyEvent) (string, error) {
	b, err := CanonicalBytes(e)
	if err != nil {
		return "", err
	}
	return h.digest(b), nil
}

// PayloadHash digests a payload on its own; used to detect identical retries.
func (h Hasher) PayloadHash(payload json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return h.digest(payload)
	}
	return h.digest(buf.Bytes())
}

// Seal links e to prev and fills its sequence number, previous hash and
// content hash. prev is nil for the first event.
func (h Hasher) Seal(e CustodyEvent, prev *CustodyEvent) (CustodyEvent, error) {
	if prev == nil {
		e.SequenceNumber = 1
		e.PreviousHash = ZeroHash
	} else {
		e.SequenceNumber = prev.SequenceNumber + 1
		e.PreviousHash = prev.ContentHash
	}
	hash, err := h.ContentHash(e)
	if err != nil {
		return CustodyEvent{}, err
	}
	e.ContentHash = hash
	return e, nil
}

// VerifyChain recomputes the chain from event 1 and returns CorruptLedger at
// the first sequence whose position, batch, link or hash does not match.
func (h Hasher) VerifyChain(batchID string, events []CustodyEvent) error {
	prevHash := ZeroHash
	for i, e := range events {
		want := int64(i + 1)
		switch {
		case e.SequenceNumber != want:
			return Corrupt(want, "expected sequence %d, found %d", want, e.SequenceNumber)
		case e.BatchID != batchID:
			return Corrupt(want, "event belongs to batch %s", e.BatchID)
		case e.PreviousHash != prevHash:
			return Corrupt(want, "previous hash does not link to sequence %d", want-1)
		}
		got, err := h.ContentHash(e)
		if err != nil {
			return Corrupt(want, "canonicalize: %v", err)
		}
		if got != e.ContentHash {
			return Corrupt(want, "content hash mismatch")
		}
		prevHash = e.ContentHash
	}
	return nil
}

// HashAt recomputes the chain and returns the content hash at seq.
func (h Hasher) HashAt(batchID string, events []CustodyEvent, seq int64) (string, error) {
	if seq < 1 || seq > int64(len(events)) {
		return "", fmt.Errorf("sequence %d outside ledger of %d events", seq, len(events))
	}
	if err := h.VerifyChain(batchID, events[:seq]); err != nil {
		return "", err
	}
	return events[seq-1].ContentHash, nil
}
