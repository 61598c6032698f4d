package skill

import (
	"github.com/AIDilloBot/trustgate/internal/approval"
)

// StoreApprover resolves bypass prompts headlessly against the
// pending-request store. First sight of a flagged skill files a
// pending request and skips the install; once a human approves the
// request from the CLI, the next install attempt redeems it.
func StoreApprover(store *approval.Store) ApproveFunc {
	return func(s Skill, ins *InspectionResult) Decision {
		hash := ContentHash(s)
		key := approval.KeyFor(s.Name, hash)

		status, err := store.Check(key)
		if err != nil {
			if err := store.Submit(key, s.Name, hash, ins.Summary, ins.RiskLevel); err != nil {
				return DecisionCancel
			}
			return DecisionSkip
		}

		switch status {
		case approval.StatusApproved:
			ok, err := store.Use(key)
			if err != nil || !ok {
				return DecisionSkip
			}
			return DecisionInstall
		case approval.StatusDenied:
			return DecisionCancel
		default:
			return DecisionSkip
		}
	}
}
