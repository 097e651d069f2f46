package config

import (
	"errors"
	"os"
	"strings"
)

// Tiny ERP account registry.
//
// Each "account" is one Tiny tenant/credential set. Product and invoice
// numbering spaces are independent per account, so every cached row carries
// the account it was fetched under.
//
// Env:
//   TINY_ACCOUNTS       comma-separated account names (default "lucas,eliane";
//                       order matters — the resolver scans accounts in this order)
//   TINY_TOKEN_<NAME>   API token per account (name upper-cased)
//   TINY_API_BASE_URL   default https://api.tiny.com.br/api2

const DefaultTinyAccounts = "lucas,eliane"

var ErrorUnknownAccount = errors.New("unknown tiny account")

func TinyAccounts() []string {
	raw := strings.TrimSpace(os.Getenv("TINY_ACCOUNTS"))
	if raw == "" {
		raw = DefaultTinyAccounts
	}
	parts := strings.Split(raw, ",")
	accounts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			accounts = append(accounts, p)
		}
	}
	return accounts
}

func IsKnownAccount(account string) bool {
	for _, a := range TinyAccounts() {
		if a == account {
			return true
		}
	}
	return false
}

func TinyToken(account string) (string, error) {
	account = strings.ToLower(strings.TrimSpace(account))
	if account == "" || !IsKnownAccount(account) {
		return "", ErrorUnknownAccount
	}
	token := strings.TrimSpace(os.Getenv("TINY_TOKEN_" + strings.ToUpper(account)))
	if token == "" {
		return "", errors.New("tiny token not configured for account " + account)
	}
	return token, nil
}

func TinyBaseURL() string {
	baseURL := strings.TrimSpace(os.Getenv("TINY_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.tiny.com.br/api2"
	}
	return strings.TrimRight(baseURL, "/")
}
