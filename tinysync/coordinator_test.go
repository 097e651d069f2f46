package tinysync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLedgerRefusedWhileSameAccountRunning(t *testing.T) {
	co := NewCoordinator()
	ctx := context.Background()

	if err := co.BeginLedger(ctx, "eliane"); err != nil {
		t.Fatalf("first BeginLedger: %v", err)
	}
	defer co.EndLedger("eliane")

	if err := co.BeginLedger(ctx, "eliane"); !errors.Is(err, ErrSyncRefused) {
		t.Fatalf("second BeginLedger = %v, want ErrSyncRefused", err)
	}

	// A different account is independent.
	if err := co.BeginLedger(ctx, "lucas"); err != nil {
		t.Fatalf("BeginLedger(lucas): %v", err)
	}
	co.EndLedger("lucas")
}

func TestLedgerRefusedWhileCatalogRunning(t *testing.T) {
	co := NewCoordinator()
	ctx := context.Background()

	if err := co.BeginCatalog(ctx, "eliane"); err != nil {
		t.Fatalf("BeginCatalog: %v", err)
	}
	defer co.EndCatalog()

	if err := co.BeginLedger(ctx, "lucas"); !errors.Is(err, ErrSyncRefused) {
		t.Fatalf("BeginLedger = %v, want ErrSyncRefused", err)
	}
}

func TestEmissionPageRefusesLedgerAndSignalsStop(t *testing.T) {
	co := NewCoordinator()
	ctx := context.Background()

	if err := co.BeginLedger(ctx, "eliane"); err != nil {
		t.Fatalf("BeginLedger: %v", err)
	}

	co.SetEmissionPageActive(true)

	if !co.ShouldStopLedger("eliane") {
		t.Error("running ledger sync should see stop signal")
	}
	if !co.ShouldStopCatalog() {
		t.Error("catalog sync should see stop signal")
	}
	co.EndLedger("eliane")

	if err := co.BeginLedger(ctx, "eliane"); !errors.Is(err, ErrSyncRefused) {
		t.Fatalf("BeginLedger with emission page = %v, want ErrSyncRefused", err)
	}

	co.SetEmissionPageActive(false)
	if err := co.BeginLedger(ctx, "eliane"); err != nil {
		t.Fatalf("BeginLedger after flag cleared: %v", err)
	}
	co.EndLedger("eliane")
}

func TestCatalogWaitsForLedgerDrainInsteadOfSkipping(t *testing.T) {
	co := NewCoordinator()
	ctx := context.Background()

	if err := co.BeginLedger(ctx, "eliane"); err != nil {
		t.Fatalf("BeginLedger: %v", err)
	}

	claimed := make(chan error, 1)
	go func() {
		claimed <- co.BeginCatalog(ctx, "eliane")
	}()

	// The catalog claim must signal stop to the ledger pass and block.
	deadline := time.Now().Add(2 * time.Second)
	for !co.ShouldStopLedger("eliane") {
		if time.Now().After(deadline) {
			t.Fatal("stop signal never reached ledger sync")
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case err := <-claimed:
		t.Fatalf("BeginCatalog returned %v before ledger drained", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Ledger drains at its boundary; the catalog claim must now proceed.
	co.EndLedger("eliane")
	select {
	case err := <-claimed:
		if err != nil {
			t.Fatalf("BeginCatalog after drain: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("BeginCatalog still blocked after ledger drained")
	}
	defer co.EndCatalog()

	if !co.Status().CatalogRunning {
		t.Error("status should report catalog running")
	}
}

func TestConcurrentCatalogClaimsAllowOneWinner(t *testing.T) {
	co := NewCoordinator()
	ctx := context.Background()

	if err := co.BeginLedger(ctx, "eliane"); err != nil {
		t.Fatalf("BeginLedger: %v", err)
	}

	// Two triggers race for the catalog slot while a ledger sync holds them
	// both on the drain wait.
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- co.BeginCatalog(ctx, "lucas")
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for !co.ShouldStopLedger("eliane") {
		if time.Now().After(deadline) {
			t.Fatal("stop signal never raised")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	co.EndLedger("eliane")

	var claimed, refused int
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			switch {
			case err == nil:
				claimed++
			case errors.Is(err, ErrSyncRefused):
				refused++
			default:
				t.Fatalf("BeginCatalog: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("BeginCatalog never returned")
		}
	}
	if claimed != 1 || refused != 1 {
		t.Fatalf("claimed = %d, refused = %d, want exactly one winner", claimed, refused)
	}

	co.EndCatalog()
	// The slot is reusable after the winner finishes.
	if err := co.BeginCatalog(ctx, "lucas"); err != nil {
		t.Fatalf("BeginCatalog after EndCatalog: %v", err)
	}
	co.EndCatalog()
}

func TestSecondCatalogRefused(t *testing.T) {
	co := NewCoordinator()
	ctx := context.Background()

	if err := co.BeginCatalog(ctx, "eliane"); err != nil {
		t.Fatalf("BeginCatalog: %v", err)
	}
	defer co.EndCatalog()

	if err := co.BeginCatalog(ctx, "lucas"); !errors.Is(err, ErrSyncRefused) {
		t.Fatalf("second BeginCatalog = %v, want ErrSyncRefused", err)
	}
}

func TestEndCatalogClearsStopFlags(t *testing.T) {
	co := NewCoordinator()
	ctx := context.Background()

	if err := co.BeginCatalog(ctx, "eliane"); err != nil {
		t.Fatalf("BeginCatalog: %v", err)
	}
	if !co.ShouldStopLedger("eliane") || !co.ShouldStopLedger("lucas") {
		t.Fatal("catalog claim should request stop for every account")
	}
	co.EndCatalog()

	if co.ShouldStopLedger("eliane") || co.ShouldStopLedger("lucas") {
		t.Error("stop flags should clear when catalog sync ends")
	}
	if err := co.BeginLedger(ctx, "eliane"); err != nil {
		t.Fatalf("BeginLedger after catalog: %v", err)
	}
	co.EndLedger("eliane")
}
