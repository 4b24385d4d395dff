/**
 * @description
 * This file defines the core domain model for a Beneficiary: a customer-scoped
 * allow-list entry naming an account the customer may address as a transfer target.
 */
package domain

import "time"

// Beneficiary links a customer to a target ledger account.
type Beneficiary struct {
	ID            int64     `json:"beneficiary_id"`
	CustomerID    int64     `json:"customer_id"`
	AccountNumber int64     `json:"account_number"`
	AddedDate     time.Time `json:"added_date"`
	Approved      bool      `json:"approved"`
	Active        bool      `json:"active"`
}

// NewBeneficiary builds an unapproved, active beneficiary dated on the day of now.
func NewBeneficiary(customerID, accountNumber int64, now time.Time) *Beneficiary {
	y, m, d := now.Date()
	return &Beneficiary{
		CustomerID:    customerID,
		AccountNumber: accountNumber,
		AddedDate:     time.Date(y, m, d, 0, 0, 0, 0, now.Location()),
		Approved:      false,
		Active:        true,
	}
}

// AddBeneficiaryRequest is the inbound payload for registering a beneficiary.
type AddBeneficiaryRequest struct {
	AccountNumber int64 `json:"account_number" validate:"nonzero"`
}
