package vault

import (
	"context"
	"testing"
	"time"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return OpenWithKey(key)
}

func TestStoreAndResolveForHost(t *testing.T) {
	v := testVault(t)
	if err := v.Store("PROD_KEY", KindAPIKey, "sk-aaabbbccc", []string{"http-tool"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	resolve := v.NewHostResolver()
	plaintext, err := resolve(context.Background(), "http-tool", "PROD_KEY")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plaintext != "sk-aaabbbccc" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}
}

func TestResolveForHostDeniedOutOfScope(t *testing.T) {
	v := testVault(t)
	if err := v.Store("PROD_KEY", KindAPIKey, "sk-aaabbbccc", []string{"other-tool"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	resolve := v.NewHostResolver()
	if _, err := resolve(context.Background(), "http-tool", "PROD_KEY"); err == nil {
		t.Fatal("expected policy-denied error for out-of-scope tool")
	}
}

func TestResolveForHostNotFound(t *testing.T) {
	v := testVault(t)
	resolve := v.NewHostResolver()
	if _, err := resolve(context.Background(), "http-tool", "MISSING"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestDescribeNeverExposesPlaintext(t *testing.T) {
	v := testVault(t)
	if err := v.Store("PROD_KEY", KindAPIKey, "sk-aaabbbccc", []string{"http-tool"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	for _, c := range v.Describe() {
		if c.ID == "PROD_KEY" && (c.nonce != nil || c.ciphertext != nil) {
			t.Fatalf("Describe must not expose internal key material")
		}
	}
}

func TestRemove(t *testing.T) {
	v := testVault(t)
	_ = v.Store("TEMP", KindAPIKey, "value", []string{"*"})
	v.Remove("TEMP")
	resolve := v.NewHostResolver()
	if _, err := resolve(context.Background(), "any-tool", "TEMP"); err == nil {
		t.Fatal("expected not-found after remove")
	}
}

func TestOnMutateFiresOnStoreAndRemove(t *testing.T) {
	v := testVault(t)
	count := 0
	v.OnMutate(func() { count++ })
	_ = v.Store("A", KindAPIKey, "value", []string{"*"})
	v.Remove("A")
	if count != 2 {
		t.Fatalf("expected 2 mutation callbacks, got %d", count)
	}
}

func TestStaleCredentialsOrdersByAge(t *testing.T) {
	v := OpenWithKey([32]byte{7})
	if err := v.Store("FRESH_KEY", KindAPIKey, "sk-fresh", nil); err != nil {
		t.Fatal(err)
	}
	if err := v.Store("OLD_KEY", KindAPIKey, "sk-old", nil); err != nil {
		t.Fatal(err)
	}
	if err := v.Store("OLDER_KEY", KindAPIKey, "sk-older", nil); err != nil {
		t.Fatal(err)
	}
	// Backdate two credentials past the rotation horizon.
	v.mu.Lock()
	v.credentials["OLD_KEY"].StoredAt = time.Now().Add(-91 * 24 * time.Hour)
	v.credentials["OLDER_KEY"].StoredAt = time.Now().Add(-120 * 24 * time.Hour)
	v.mu.Unlock()

	stale := v.StaleCredentials(90 * 24 * time.Hour)
	if len(stale) != 2 || stale[0] != "OLDER_KEY" || stale[1] != "OLD_KEY" {
		t.Fatalf("expected [OLDER_KEY OLD_KEY] stale, oldest first, got %v", stale)
	}
}
