package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"lcacore/internal/blob/core"
)

func TestMockRoundTrip(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()

	if store.Driver() != core.DriverS3 {
		t.Fatalf("driver = %s", store.Driver())
	}

	info, err := store.Put(ctx, "exports/lci/datapackage.json", strings.NewReader(`{"resources":[]}`), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "exports/lci/datapackage.json" {
		t.Fatalf("info key = %q", info.Key)
	}

	if _, err := store.Put(ctx, "exports/lci/datapackage.json", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected create-only semantics")
	}

	_, rc, err := store.Get(ctx, "exports/lci/datapackage.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !strings.Contains(string(body), "resources") {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := store.Put(ctx, "exports/lci/biosphere.bin", strings.NewReader("rows"), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	infos, err := store.List(ctx, "exports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("list returned %d, want 2", len(infos))
	}

	ok, err := store.Delete(ctx, "exports/lci/biosphere.bin")
	if err != nil || !ok {
		t.Fatalf("delete = (%v, %v)", ok, err)
	}
	if _, err := store.Head(ctx, "exports/lci/biosphere.bin"); err == nil {
		t.Fatalf("expected head of deleted key to fail")
	}
}

func TestPresignRejectsNonGet(t *testing.T) {
	store := NewMockForTests()
	if _, err := store.PresignURL(context.Background(), "k", core.SignedURLOptions{Method: "PUT"}); err != core.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestOpenFromEnvRequiresBucket(t *testing.T) {
	t.Setenv("LCACORE_BLOB_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
