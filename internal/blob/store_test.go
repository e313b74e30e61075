package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	info, err := store.Put(ctx, "exports/lci/datapackage.json", strings.NewReader(`{"profile":"data-package"}`), PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"database": "lci"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size == 0 || info.ETag == "" {
		t.Fatalf("incomplete info after put: %+v", info)
	}

	if _, err := store.Put(ctx, "exports/lci/datapackage.json", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatalf("expected duplicate key to be rejected")
	}

	got, rc, err := store.Get(ctx, "exports/lci/datapackage.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	payload, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(payload), "data-package") {
		t.Fatalf("unexpected payload %q", payload)
	}
	if got.ContentType != "application/json" {
		t.Fatalf("content type = %q", got.ContentType)
	}
	if got.Metadata["database"] != "lci" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}

	head, err := store.Head(ctx, "exports/lci/datapackage.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Size != got.Size {
		t.Fatalf("head size %d != get size %d", head.Size, got.Size)
	}

	if _, err := store.Put(ctx, "exports/lci/technosphere.bin", strings.NewReader("rows"), PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	infos, err := store.List(ctx, "exports/lci/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("list returned %d entries, want 2", len(infos))
	}
	if infos[0].Key > infos[1].Key {
		t.Fatalf("list not sorted: %s > %s", infos[0].Key, infos[1].Key)
	}

	deleted, err := store.Delete(ctx, "exports/lci/technosphere.bin")
	if err != nil || !deleted {
		t.Fatalf("delete = (%v, %v)", deleted, err)
	}
	deleted, err = store.Delete(ctx, "exports/lci/technosphere.bin")
	if err != nil || deleted {
		t.Fatalf("second delete = (%v, %v), want (false, nil)", deleted, err)
	}
}

func TestFilesystemStore(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s", store.Driver())
	}
	testStoreContract(t, store)

	url, err := store.PresignURL(context.Background(), "exports/lci/datapackage.json", SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "http://artifacts.local/") {
		t.Fatalf("unexpected local url %q", url)
	}
	if _, err := store.PresignURL(context.Background(), "exports/lci/datapackage.json", SignedURLOptions{Method: "PUT"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for PUT presign, got %v", err)
	}
}

func TestFilesystemRejectsTraversalKeys(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem: %v", err)
	}
	for _, key := range []string{"", "/abs", "../escape", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Errorf("key %q accepted", key)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}
	testStoreContract(t, store)

	if _, err := store.PresignURL(context.Background(), "exports/lci/datapackage.json", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	t.Setenv("LCACORE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s, want memory", store.Driver())
	}

	t.Setenv("LCACORE_BLOB_DRIVER", "fs")
	t.Setenv("LCACORE_BLOB_FS_ROOT", t.TempDir())
	store, err = Open(context.Background())
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s, want fs", store.Driver())
	}

	t.Setenv("LCACORE_BLOB_DRIVER", "bogus")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
