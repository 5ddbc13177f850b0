package core

import (
	"context"
	"encoding/hex"
	"fmt"

	"herbtrace/pkg/domain"
)

// ChainLinkRule checks that a staged event extends the ledger head: next
// sequence number, previous hash equal to the head's content hash and a
// well-formed digest.
func ChainLinkRule() domain.Rule {
	return chainLinkRule{}
}

type chainLinkRule struct{}

func (chainLinkRule) Name() string { return "chain_link" }

func (r chainLinkRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, staged := range stagedAppends(changes) {
		e := staged.event
		events := view.ListEvents(e.BatchID)
		n := int64(len(events))
		if n == 0 || events[n-1].ContentHash != e.ContentHash {
			res.Violations = append(res.Violations, blockViolation(r.Name(), domain.KindCorruptLedger, e, "", "staged event is not the ledger head"))
			continue
		}
		if e.SequenceNumber != n {
			res.Violations = append(res.Violations, blockViolation(r.Name(), domain.KindCorruptLedger, e, "",
				fmt.Sprintf("sequence %d does not follow %d", e.SequenceNumber, n-1)))
			continue
		}
		prevHash := domain.ZeroHash
		if n > 1 {
			prevHash = events[n-2].ContentHash
		}
		if e.PreviousHash != prevHash {
			res.Violations = append(res.Violations, blockViolation(r.Name(), domain.KindCorruptLedger, e, "", "previous hash does not link to the ledger head"))
			continue
		}
		if raw, err := hex.DecodeString(e.ContentHash); err != nil || len(raw) != 32 {
			res.Violations = append(res.Violations, blockViolation(r.Name(), domain.KindCorruptLedger, e, "", "content hash is not a 256-bit hex digest"))
		}
	}
	return res, nil
}
