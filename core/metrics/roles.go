package metrics

import (
	"fmt"
	"sort"
	"time"
)

// Role is the sender/receiver balance of an account on one date.
type Role string

const (
	// RoleSender marks accounts that emit clearly more than they receive.
	RoleSender Role = "sender"

	// RoleReceiver marks accounts that receive clearly more than they emit.
	RoleReceiver Role = "receiver"

	// RoleBalanced marks everything in between, including symmetric accounts.
	RoleBalanced Role = "balanced"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// RoleRecord is one account's role on one date.
type RoleRecord struct {
	Date      time.Time `json:"date"`
	AccountID string    `json:"account_id"`
	Role      Role      `json:"role"`
}

// ClassifyRole thresholds an account's in/out degree. The second return is
// false for accounts with zero total degree, which are excluded entirely.
func ClassifyRole(inDegree, outDegree, threshold float64) (Role, bool) {
	if inDegree == 0 && outDegree == 0 {
		return "", false
	}
	switch {
	case outDegree > threshold*inDegree:
		return RoleSender, true
	case inDegree > threshold*outDegree:
		return RoleReceiver, true
	default:
		return RoleBalanced, true
	}
}

// Roles pairs in- and out-degree records by (date, account) and classifies
// each pair. Accounts missing from one side count a zero degree there.
func Roles(inRecords, outRecords []DegreeRecord, threshold float64) ([]RoleRecord, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: role threshold must be positive, got %v", ErrInvalidMetricConfig, threshold)
	}

	type key struct {
		date    time.Time
		account string
	}
	inBy := make(map[key]float64, len(inRecords))
	for _, rec := range inRecords {
		inBy[key{rec.Date, rec.AccountID}] = rec.WeightedDegree
	}
	outBy := make(map[key]float64, len(outRecords))
	for _, rec := range outRecords {
		outBy[key{rec.Date, rec.AccountID}] = rec.WeightedDegree
	}

	keys := make(map[key]bool, len(inBy)+len(outBy))
	for k := range inBy {
		keys[k] = true
	}
	for k := range outBy {
		keys[k] = true
	}

	var records []RoleRecord
	for k := range keys {
		role, ok := ClassifyRole(inBy[k], outBy[k], threshold)
		if !ok {
			continue
		}
		records = append(records, RoleRecord{Date: k.date, AccountID: k.account, Role: role})
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].AccountID < records[j].AccountID
	})
	return records, nil
}
