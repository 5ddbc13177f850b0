package core

import (
	"context"
	"testing"

	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/pkg/domain"
)

func TestIssuedTokenVerifiesInEveryState(t *testing.T) {
	states := []domain.State{domain.StateCreated}
	for _, step := range happyPath {
		states = append(states, step.state)
	}
	for _, state := range states {
		t.Run(string(state), func(t *testing.T) {
			svc := newTestService(t)
			batch := advance(t, svc, state)
			token, err := svc.IssueToken(context.Background(), batch.ID)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if token.SequenceNumber != batch.LatestSequenceNumber || token.ContentHash != batch.LatestContentHash || token.Algorithm != domain.HashSHA256 {
				t.Fatalf("token does not reference the head: %+v", token)
			}
			res, err := svc.VerifyToken(context.Background(), token.Encode())
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if res.Status != domain.VerificationValid || res.Superseded || res.State != state {
				t.Fatalf("unexpected result: %+v", res)
			}
		})
	}
}

func TestVerifyReportsSupersededTokens(t *testing.T) {
	svc := newTestService(t)
	batch := advance(t, svc, domain.StateCollectedByAgency)
	token, err := svc.IssueToken(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	submit(t, svc, batch.ID, domain.EventInTransitMarked, "agent-1", domain.HandoffRecord{})
	res, err := svc.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Status != domain.VerificationValid || !res.Superseded || res.HeadSequence != 4 || res.State != domain.StateInTransit {
		t.Fatalf("expected valid superseded token, got %+v", res)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(tok *VerificationToken, snap *memory.Snapshot, batchID string)
	}{
		{"forged hash", func(tok *VerificationToken, _ *memory.Snapshot, _ string) {
			tok.ContentHash = domain.ZeroHash
		}},
		{"sequence beyond head", func(tok *VerificationToken, _ *memory.Snapshot, _ string) {
			tok.SequenceNumber = 99
		}},
		{"other algorithm", func(tok *VerificationToken, _ *memory.Snapshot, _ string) {
			tok.Algorithm = domain.HashBLAKE3
		}},
		{"edited event", func(_ *VerificationToken, snap *memory.Snapshot, id string) {
			events := snap.Events[id]
			events[0].ActorID = "farmer-2"
		}},
		{"dropped event", func(_ *VerificationToken, snap *memory.Snapshot, id string) {
			events := snap.Events[id]
			snap.Events[id] = append(events[:1:1], events[2:]...)
		}},
		{"rewritten head", func(_ *VerificationToken, snap *memory.Snapshot, id string) {
			b := snap.Batches[id]
			b.LatestContentHash = domain.ZeroHash
			snap.Batches[id] = b
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t)
			batch := advance(t, svc, domain.StateInTransit)
			token, err := svc.IssueToken(context.Background(), batch.ID)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			store := memoryStore(t, svc)
			snap := store.ExportState()
			tc.mutate(&token, &snap, batch.ID)
			store.ImportState(snap)
			res, err := svc.Verify(context.Background(), token)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if res.Status != domain.VerificationTampered || res.Reason == "" {
				t.Fatalf("expected Tampered with a reason, got %+v", res)
			}
		})
	}
}

func TestVerifyUnknownAndMalformed(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.Verify(context.Background(), VerificationToken{BatchID: "missing", SequenceNumber: 1, ContentHash: domain.ZeroHash})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Status != domain.VerificationUnknown {
		t.Fatalf("expected Unknown, got %+v", res)
	}
	if _, err := svc.VerifyToken(context.Background(), "not-a-token"); !domain.IsKind(err, domain.KindValidationFailure) {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
	if _, err := svc.IssueToken(context.Background(), "missing"); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
