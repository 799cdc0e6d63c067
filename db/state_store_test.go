package db_test

import (
	"context"
	"testing"

	"github.com/onnwee/combo-overlay/backend/db"
	"github.com/onnwee/combo-overlay/backend/testutil"
)

func TestStateStore(t *testing.T) {
	ctx := context.Background()
	s := db.NewStateStore(testutil.SetupTestDB(t))
	const key = "combo-overlay-v3-db-test"
	t.Cleanup(func() { _ = s.Delete(context.Background(), key) })

	b, err := s.Load(ctx, key)
	if err != nil || b != nil {
		t.Fatalf("Load(absent) = %q, %v; want nil, nil", b, err)
	}

	if err := s.Save(ctx, key, []byte(`{"records":[],"aggregate":{"total":1,"users":{"a":1}},"entities":{}}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, key, []byte(`{"records":[],"aggregate":{"total":2,"users":{"a":2}},"entities":{}}`)); err != nil {
		t.Fatalf("second save: %v", err)
	}
	b, err = s.Load(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("load returned no state after save")
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	found := false
	for _, k := range keys {
		if k == key {
			found = true
		}
	}
	if !found {
		t.Errorf("Keys() = %v, missing %s", keys, key)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	b, err = s.Load(ctx, key)
	if err != nil || b != nil {
		t.Fatalf("Load(after delete) = %q, %v; want nil, nil", b, err)
	}
}
