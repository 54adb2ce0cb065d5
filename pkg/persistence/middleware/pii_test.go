package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/persistence/middleware"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := NewMockStore()
	// Mask keys containing "password" or "ssn"
	mw := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	m := domain.Mutation{
		ID:   "pii",
		Type: domain.MutationUpdate,
		Payload: map[string]any{
			"username":      "jdoe",
			"user_password": "secret123",
			"details": map[string]any{
				"address":    "123 St",
				"ssn_number": "999-99-9999",
			},
			"safe_data": "public",
		},
	}

	if err := secureStore.Save(ctx, m); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify the caller's payload is NOT MODIFIED
	if m.Payload["user_password"] != "secret123" {
		t.Error("Middleware modified the original payload in memory!")
	}

	stored, err := underlyingStore.Load(ctx, "pii")
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if stored.Payload["username"] != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if stored.Payload["user_password"] != middleware.Mask {
		t.Errorf("Password should be masked, got: %v", stored.Payload["user_password"])
	}
	details := stored.Payload["details"].(map[string]any)
	if details["ssn_number"] != middleware.Mask {
		t.Errorf("Nested SSN should be masked, got: %v", details["ssn_number"])
	}
	if details["address"] != "123 St" {
		t.Errorf("Address shouldn't be masked, got: %v", details["address"])
	}
}

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	underlyingStore := NewMockStore()
	key := make([]byte, 32)
	store := middleware.Chain(underlyingStore,
		middleware.NewPIIMiddleware([]string{"token"}),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}),
	)

	ctx := context.Background()
	if err := store.Save(ctx, domain.Mutation{ID: "c", Payload: map[string]any{"token": "abc", "v": 1.0}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := store.Load(ctx, "c")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Payload["token"] != middleware.Mask {
		t.Errorf("Expected token masked before encryption, got %v", loaded.Payload["token"])
	}
	if loaded.Payload["v"] != 1.0 {
		t.Errorf("Expected v=1, got %v", loaded.Payload["v"])
	}
}
