package metadata

import (
	"context"
	"errors"
	"testing"
)

func TestMockStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	v1, err := store.Put(ctx, "/vacuum/v1/checkpoints/a", []byte("1"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	v2, err := store.Put(ctx, "/vacuum/v1/checkpoints/a", []byte("2"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if v2 <= v1 {
		t.Errorf("versions must increase: %d then %d", v1, v2)
	}

	res, err := store.Get(ctx, "/vacuum/v1/checkpoints/a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !res.Exists || string(res.Value) != "2" || res.Version != v2 {
		t.Errorf("unexpected result: %+v", res)
	}

	res, err = store.Get(ctx, "/missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Exists {
		t.Error("missing key reported as existing")
	}
}

func TestMockStore_ExpectedVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	if _, err := store.Put(ctx, "k", []byte("x"), WithExpectedVersion(3)); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch for absent key, got %v", err)
	}
	v, err := store.Put(ctx, "k", []byte("x"), WithExpectedVersion(0))
	if err != nil {
		t.Fatalf("create with version 0 failed: %v", err)
	}
	if _, err := store.Put(ctx, "k", []byte("y"), WithExpectedVersion(0)); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch for existing key, got %v", err)
	}
	if _, err := store.Put(ctx, "k", []byte("y"), WithExpectedVersion(v)); err != nil {
		t.Errorf("CAS with current version failed: %v", err)
	}
	if err := store.Delete(ctx, "k", WithDeleteExpectedVersion(v)); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch on stale delete, got %v", err)
	}
	if err := store.Delete(ctx, "absent", WithDeleteExpectedVersion(7)); err != nil {
		t.Errorf("delete of absent key should succeed, got %v", err)
	}
}

func TestMockStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	for _, k := range []string{"/p/c", "/p/a", "/p/b", "/q/a"} {
		if _, err := store.Put(ctx, k, nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	kvs, err := store.List(ctx, "/p/", "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(kvs) != 3 || kvs[0].Key != "/p/a" || kvs[2].Key != "/p/c" {
		t.Errorf("unexpected prefix listing: %+v", kvs)
	}

	kvs, err = store.List(ctx, "/p/a", "/p/c", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(kvs) != 2 {
		t.Errorf("expected 2 keys in range, got %d", len(kvs))
	}

	kvs, err = store.List(ctx, "/", "", 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(kvs) != 1 {
		t.Errorf("limit not applied: %d", len(kvs))
	}
}

func TestMockStore_Ephemeral(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()

	v, err := store.PutEphemeral(ctx, "/lease", []byte("a"), WithEphemeralExpectNotExists())
	if err != nil {
		t.Fatalf("PutEphemeral failed: %v", err)
	}
	if _, err := store.PutEphemeral(ctx, "/lease", []byte("b"), WithEphemeralExpectNotExists()); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch, got %v", err)
	}
	if _, err := store.PutEphemeral(ctx, "/lease", []byte("a"), WithEphemeralExpectedVersion(v)); err != nil {
		t.Errorf("renew failed: %v", err)
	}
	if _, err := store.Put(ctx, "/durable", []byte("d")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	store.ExpireSession()

	if res, _ := store.Get(ctx, "/lease"); res.Exists {
		t.Error("ephemeral key survived session expiry")
	}
	if res, _ := store.Get(ctx, "/durable"); !res.Exists {
		t.Error("durable key removed on session expiry")
	}
}

func TestMockStore_FailureAndClose(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	boom := errors.New("unavailable")

	store.SetFailure("Get", boom)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("expected injected failure, got %v", err)
	}
	store.SetFailure("Get", nil)
	if store.Calls("Get") != 1 {
		t.Errorf("Calls(Get) = %d, want 1", store.Calls("Get"))
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := store.Put(ctx, "k", nil); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
