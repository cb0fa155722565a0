// Package pii hashes identity fields for the advertising API and masks them
// for logs.
package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/normalize"
	"github.com/sells-group/leadsync/pkg/meta"
)

// Hash returns the hex SHA-256 digest of value.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// hashText lower-cases and trims before hashing; empty input yields nil.
func hashText(value string) []string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return nil
	}
	return []string{Hash(v)}
}

// hashDigits keeps only digits before hashing; empty input yields nil.
func hashDigits(value string) []string {
	v := normalize.Digits(value)
	if v == "" {
		return nil
	}
	return []string{Hash(v)}
}

// BuildUserData assembles the user_data block for a lead. Absent fields are
// omitted. Click cookies and network context stay in plaintext, and
// external_id is always the hashed identity id.
func BuildUserData(lead *model.Lead) meta.UserData {
	ud := meta.UserData{
		Email:           hashText(lead.Email),
		Phone:           hashDigits(lead.Phone),
		FirstName:       hashText(lead.FirstName),
		LastName:        hashText(lead.LastName),
		City:            hashText(lead.City),
		State:           hashText(lead.State),
		ZipCode:         hashDigits(lead.ZipCode),
		BirthDate:       hashDigits(lead.BirthDate),
		ExternalID:      []string{Hash(lead.IdentityID)},
		FBC:             lead.FBC,
		FBP:             lead.FBP,
		ClientIPAddress: lead.ClientIP,
		ClientUserAgent: lead.UserAgent,
	}
	if lead.Lineage == model.LineageNative {
		ud.LeadID = lead.IdentityID
	}
	return ud
}
