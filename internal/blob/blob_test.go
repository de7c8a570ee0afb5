package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestDirStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	work := t.TempDir()
	src := filepath.Join(work, "xlk_shares.csv")
	if err := os.WriteFile(src, []byte("date,aapl_shares\n2024-06-14,100\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := store.Upload(ctx, "xlk_shares.csv", src); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	dst := filepath.Join(work, "restored.csv")
	if err := store.Download(ctx, "xlk_shares.csv", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "date,aapl_shares\n2024-06-14,100\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestDirStoreMissingAndBadNames(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	err = store.Download(ctx, "absent.csv", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Upload(ctx, "../escape.csv", "whatever"); err == nil {
		t.Fatal("path traversal must be rejected")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(fmt.Errorf("get: %w", &types.NoSuchKey{})) {
		t.Fatal("NoSuchKey should be not found")
	}
	if isNotFound(errors.New("access denied")) {
		t.Fatal("other errors are not not-found")
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Options{}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
