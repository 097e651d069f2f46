package utils

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

var CountryCode = "BR"

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// NormalizePhoneNumber formats a consignee phone to the national format used
// on shipping labels. Invalid or empty numbers come back trimmed, unchanged:
// the ERP is full of free-text phone fields and a bad phone must never block
// an invoice from being cached.
func NormalizePhoneNumber(phoneNumber string) string {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return ""
	}
	p, err := libphonenumber.Parse(phoneNumber, CountryCode)
	if err != nil || !libphonenumber.IsValidNumber(p) {
		return phoneNumber
	}
	return libphonenumber.Format(p, libphonenumber.NATIONAL)
}

// JoinDistinct concatenates values into a comma-separated list, keeping only
// the first occurrence of each value and dropping blanks.
func JoinDistinct(values []string) string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return strings.Join(out, ", ")
}
