package config

import (
	"errors"
	"testing"
)

func TestTinyAccountsDefaultAndOrder(t *testing.T) {
	t.Setenv("TINY_ACCOUNTS", "")

	accounts := TinyAccounts()
	if len(accounts) != 2 || accounts[0] != "lucas" || accounts[1] != "eliane" {
		t.Fatalf("accounts = %v, want [lucas eliane]", accounts)
	}
}

func TestTinyAccountsParsesEnv(t *testing.T) {
	t.Setenv("TINY_ACCOUNTS", " Lucas , eliane ,, filial ")

	accounts := TinyAccounts()
	if len(accounts) != 3 || accounts[0] != "lucas" || accounts[1] != "eliane" || accounts[2] != "filial" {
		t.Fatalf("accounts = %v, want [lucas eliane filial]", accounts)
	}
	if !IsKnownAccount("filial") || IsKnownAccount("nobody") {
		t.Error("IsKnownAccount should follow TINY_ACCOUNTS")
	}
}

func TestTinyToken(t *testing.T) {
	t.Setenv("TINY_ACCOUNTS", "eliane,lucas")
	t.Setenv("TINY_TOKEN_ELIANE", "tok-e")
	t.Setenv("TINY_TOKEN_LUCAS", "")

	token, err := TinyToken("eliane")
	if err != nil || token != "tok-e" {
		t.Fatalf("TinyToken(eliane) = %q, %v", token, err)
	}
	if token, err := TinyToken("ELIANE "); err != nil || token != "tok-e" {
		t.Errorf("TinyToken should normalize the account name, got %q, %v", token, err)
	}

	if _, err := TinyToken("lucas"); err == nil {
		t.Error("expected error for account without token")
	}
	if _, err := TinyToken("nobody"); !errors.Is(err, ErrorUnknownAccount) {
		t.Errorf("err = %v, want ErrorUnknownAccount", err)
	}
}

func TestTinyBaseURLTrimsTrailingSlash(t *testing.T) {
	t.Setenv("TINY_API_BASE_URL", "")
	if got := TinyBaseURL(); got != "https://api.tiny.com.br/api2" {
		t.Errorf("default base url = %q", got)
	}

	t.Setenv("TINY_API_BASE_URL", "http://127.0.0.1:9999/api2/")
	if got := TinyBaseURL(); got != "http://127.0.0.1:9999/api2" {
		t.Errorf("base url = %q, want trailing slash trimmed", got)
	}
}
