package app

import (
	"encoding/json"
	"testing"

	"github.com/transfa/ledger-service/internal/domain"
)

func decisionBody(t *testing.T, d domain.StaffAccountDecision) []byte {
	t.Helper()
	body, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal decision: %v", err)
	}
	return body
}

func TestApprovalDecisionConsumer_AppliesDecision(t *testing.T) {
	svc, repo := newTestService(t)
	seedCustomer(repo, 1)
	seedCustomer(repo, 9, domain.RoleStaff)
	seedAccount(t, repo, 100, 1, "0", false)

	consumer := svc.ApprovalDecisionConsumer()
	if ack := consumer.HandleMessage(decisionBody(t, domain.StaffAccountDecision{AccountNumber: 100, Decision: "yes", ApproverID: 9})); !ack {
		t.Fatalf("expected successful decision to be acked")
	}
	if !mustFindAccount(t, repo, 100).Approved {
		t.Fatalf("expected account to be approved")
	}
}

func TestApprovalDecisionConsumer_DropsUnprocessableMessages(t *testing.T) {
	svc, repo := newTestService(t)
	seedCustomer(repo, 1)
	seedCustomer(repo, 9, domain.RoleStaff)
	seedAccount(t, repo, 100, 1, "0", false)

	consumer := svc.ApprovalDecisionConsumer()
	cases := map[string][]byte{
		"malformed json":   []byte("{not json"),
		"missing decision": decisionBody(t, domain.StaffAccountDecision{AccountNumber: 100, ApproverID: 9}),
		"unknown account":  decisionBody(t, domain.StaffAccountDecision{AccountNumber: 999, Decision: "yes", ApproverID: 9}),
		"non staff":        decisionBody(t, domain.StaffAccountDecision{AccountNumber: 100, Decision: "yes", ApproverID: 1}),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if ack := consumer.HandleMessage(body); !ack {
				t.Fatalf("expected message to be acked and dropped")
			}
		})
	}
	if mustFindAccount(t, repo, 100).Approved {
		t.Fatalf("dropped decisions must not change the account")
	}
}

func TestApprovalDecisionConsumer_RequeuesStorageFailures(t *testing.T) {
	_, mem := newTestService(t)
	seedCustomer(mem, 1)
	seedCustomer(mem, 9, domain.RoleStaff)
	seedAccount(t, mem, 100, 1, "0", false)

	svc := NewService(&failingTxRepo{Repository: mem, err: errStorageDown}, testExchange)
	consumer := svc.ApprovalDecisionConsumer()

	if ack := consumer.HandleMessage(decisionBody(t, domain.StaffAccountDecision{AccountNumber: 100, Decision: "yes", ApproverID: 9})); ack {
		t.Fatalf("expected storage failure to be requeued")
	}
}
