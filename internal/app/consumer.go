package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"gopkg.in/validator.v2"
)

// ApprovalDecisionConsumer applies staff decisions published by back-office tooling.
type ApprovalDecisionConsumer struct {
	service *Service
}

// ApprovalDecisionConsumer returns a consumer bound to this service.
func (s *Service) ApprovalDecisionConsumer() *ApprovalDecisionConsumer {
	return &ApprovalDecisionConsumer{service: s}
}

// HandleMessage returns true to ack and false to requeue. Only storage
// failures are requeued; malformed or unresolvable decisions are dropped.
func (c *ApprovalDecisionConsumer) HandleMessage(body []byte) bool {
	var decision domain.StaffAccountDecision
	if err := json.Unmarshal(body, &decision); err != nil {
		log.Printf("level=warn component=approval_consumer msg=\"invalid payload; dropping\" err=%v", err)
		return true
	}
	if err := validator.Validate(decision); err != nil {
		log.Printf("level=warn component=approval_consumer msg=\"incomplete decision; dropping\" account_number=%d err=%v", decision.AccountNumber, err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := c.service.ApproveAccount(ctx, decision.AccountNumber, decision.Decision, decision.ApproverID)
	if err != nil {
		if store.IsNotFound(err) || errors.Is(err, ErrApproverNotStaff) {
			log.Printf("level=warn component=approval_consumer msg=\"decision rejected; dropping\" account_number=%d approver=%d err=%v",
				decision.AccountNumber, decision.ApproverID, err)
			return true
		}
		log.Printf("level=error component=approval_consumer msg=\"decision failed; requeueing\" account_number=%d err=%v", decision.AccountNumber, err)
		return false
	}

	log.Printf("level=info component=approval_consumer msg=\"decision applied\" account_number=%d approved=%s", result.AccountNumber, result.Approved)
	return true
}
