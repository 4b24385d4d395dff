/**
 * @description
 * This file defines the Customer aggregate and its beneficiary set.
 *
 * @notes
 * - Beneficiaries are keyed by target account number, so a customer can hold
 *   at most one entry per target.
 */
package domain

import (
	"sort"
	"time"
)

// Role is an authorization role carried by a customer record and its tokens.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleStaff    Role = "STAFF"
)

// Customer owns accounts and beneficiaries.
type Customer struct {
	ID            int64                  `json:"id"`
	Username      string                 `json:"username"`
	FullName      string                 `json:"full_name"`
	Status        string                 `json:"status"`
	Roles         []Role                 `json:"roles"`
	CreatedAt     time.Time              `json:"created_at"`
	Beneficiaries map[int64]*Beneficiary `json:"-"`
}

// HasRole reports whether the customer carries the given role.
func (c *Customer) HasRole(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// BeneficiaryByID finds a beneficiary by its storage identifier.
func (c *Customer) BeneficiaryByID(id int64) (*Beneficiary, bool) {
	for _, b := range c.Beneficiaries {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// BeneficiaryList returns a detached, ordered copy of the beneficiary set.
func (c *Customer) BeneficiaryList() []Beneficiary {
	list := make([]Beneficiary, 0, len(c.Beneficiaries))
	for _, b := range c.Beneficiaries {
		list = append(list, *b)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].AddedDate.Equal(list[j].AddedDate) {
			return list[i].AddedDate.Before(list[j].AddedDate)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Clone returns a deep copy of the customer including its beneficiaries.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Roles = append([]Role(nil), c.Roles...)
	cp.Beneficiaries = make(map[int64]*Beneficiary, len(c.Beneficiaries))
	for number, b := range c.Beneficiaries {
		bc := *b
		cp.Beneficiaries[number] = &bc
	}
	return &cp
}
