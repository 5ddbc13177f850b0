package core

import (
	"context"
	"fmt"

	"herbtrace/pkg/domain"
)

// IssueToken returns a verification token for the current ledger head. Tokens
// may be issued in any state; a ledger that fails verification yields
// CorruptLedger instead.
func (s *Service) IssueToken(ctx context.Context, batchID string) (VerificationToken, error) {
	var out VerificationToken
	err := s.run(ctx, opIssueToken, &opScope{entityID: batchID}, func(ctx context.Context) error {
		batch, events, err := s.snapshot(ctx, batchID)
		if err != nil {
			return err
		}
		if _, err := verifyLedger(s.store.Hasher(), batch, events); err != nil {
			return err
		}
		out = VerificationToken{
			BatchID:        batch.ID,
			SequenceNumber: batch.LatestSequenceNumber,
			ContentHash:    batch.LatestContentHash,
			Algorithm:      s.store.Hasher().Algorithm(),
		}
		return nil
	})
	return out, err
}

// VerifyToken decodes a QR payload and checks it against the ledger. A
// malformed payload is a ValidationFailure; every decodable token yields a
// result.
func (s *Service) VerifyToken(ctx context.Context, encoded string) (VerificationResult, error) {
	token, err := domain.DecodeToken(encoded)
	if err != nil {
		return VerificationResult{}, err
	}
	return s.Verify(ctx, token)
}

// Verify recomputes the batch's chain and compares it with token.
func (s *Service) Verify(ctx context.Context, token VerificationToken) (VerificationResult, error) {
	var out VerificationResult
	err := s.run(ctx, opVerifyToken, &opScope{entityID: token.BatchID}, func(ctx context.Context) error {
		batch, events, err := s.snapshot(ctx, token.BatchID)
		if domain.IsKind(err, domain.KindNotFound) {
			out = VerificationResult{Status: domain.VerificationUnknown, BatchID: token.BatchID, Reason: "batch not found"}
			return nil
		}
		if err != nil {
			return err
		}
		out = checkToken(s.store.Hasher(), token, batch, events)
		return nil
	})
	return out, err
}

func checkToken(h domain.Hasher, token VerificationToken, batch Batch, events []CustodyEvent) VerificationResult {
	res := VerificationResult{
		Status:       domain.VerificationTampered,
		BatchID:      batch.ID,
		State:        batch.State,
		HeadSequence: batch.LatestSequenceNumber,
	}
	if token.Algorithm != "" && token.Algorithm != h.Algorithm() {
		res.Reason = fmt.Sprintf("token uses %s but the ledger uses %s", token.Algorithm, h.Algorithm())
		return res
	}
	replayed, err := verifyLedger(h, batch, events)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	head := replayed.LatestSequenceNumber
	res.HeadSequence = head
	if token.SequenceNumber > head {
		res.Reason = fmt.Sprintf("token sequence %d is beyond ledger head %d", token.SequenceNumber, head)
		return res
	}
	hash, err := h.HashAt(batch.ID, events, token.SequenceNumber)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	if hash != token.ContentHash {
		res.Reason = fmt.Sprintf("content hash at sequence %d does not match token", token.SequenceNumber)
		return res
	}
	res.Status = domain.VerificationValid
	res.Superseded = token.SequenceNumber < head
	return res
}
