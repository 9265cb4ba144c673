package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"fs":     fsStore,
	}
}

func TestPutGetDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			info, err := store.Put(ctx, "exports/alice/mnist.json", strings.NewReader(`{"ok":true}`), PutOptions{ContentType: "application/json"})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Key != "exports/alice/mnist.json" || info.Size != 11 {
				t.Fatalf("unexpected info %+v", info)
			}

			_, rc, err := store.Get(ctx, "exports/alice/mnist.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			data, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil || string(data) != `{"ok":true}` {
				t.Fatalf("unexpected content %q (%v)", data, err)
			}

			existed, err := store.Delete(ctx, "exports/alice/mnist.json")
			if err != nil || !existed {
				t.Fatalf("delete: existed=%v err=%v", existed, err)
			}
			if _, _, err := store.Get(ctx, "exports/alice/mnist.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if existed, _ := store.Delete(ctx, "exports/alice/mnist.json"); existed {
				t.Fatal("second delete reported existence")
			}
		})
	}
}

func TestListByPrefix(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"exports/a/1.json", "exports/a/2.csv", "exports/b/1.json"} {
				if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "exports/a/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(infos) != 2 {
				t.Fatalf("expected 2 keys, got %d", len(infos))
			}
			if infos[0].Key != "exports/a/1.json" || infos[1].Key != "exports/a/2.csv" {
				t.Fatalf("unexpected order %+v", infos)
			}
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "k", strings.NewReader("one"), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := store.Put(ctx, "k", strings.NewReader("two"), PutOptions{}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			_, rc, err := store.Get(ctx, "k")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			data, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(data) != "two" {
				t.Fatalf("expected overwrite, got %q", data)
			}
		})
	}
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	if _, err := store.Put(context.Background(), "../escape", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatal("expected error for traversal key")
	}
	if _, err := store.Put(context.Background(), "/abs", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatal("expected error for absolute key")
	}
}
