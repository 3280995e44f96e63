package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	logx "evron/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "evron.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	mem := NewMem()
	t.Cleanup(func() { _ = mem.Close() })
	return map[string]Store{"mem": mem, "sqlite": sq}
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestListUnshiftOrdersNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"a", "b", "c"} {
				if err := st.ListUnshift(ctx, "global/schedule", raw(t, map[string]string{"id": id})); err != nil {
					t.Fatalf("unshift %s: %v", id, err)
				}
			}
			items, info, err := st.ListGet(ctx, "global/schedule", 0, 0)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if info.Length != 3 || len(items) != 3 {
				t.Fatalf("length = %d, items = %d, want 3", info.Length, len(items))
			}
			var first map[string]string
			if err := json.Unmarshal(items[0], &first); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if first["id"] != "c" {
				t.Fatalf("head = %q, want newest (c)", first["id"])
			}
		})
	}
}

func TestListGetMissingListIsEmptyNotError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			items, info, err := st.ListGet(ctx, "no/such/list", 0, 50)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(items) != 0 || info.Length != 0 {
				t.Fatalf("expected empty page, got %d items (length %d)", len(items), info.Length)
			}
		})
	}
}

func TestListGetPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				if err := st.ListUnshift(ctx, "k", raw(t, map[string]int{"n": i})); err != nil {
					t.Fatalf("unshift: %v", err)
				}
			}
			items, info, err := st.ListGet(ctx, "k", 1, 2)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if info.Length != 5 {
				t.Fatalf("length = %d, want 5", info.Length)
			}
			if len(items) != 2 {
				t.Fatalf("page size = %d, want 2", len(items))
			}
			// List is 4,3,2,1,0; offset 1 limit 2 is 3,2.
			var m map[string]int
			_ = json.Unmarshal(items[0], &m)
			if m["n"] != 3 {
				t.Fatalf("items[0].n = %d, want 3", m["n"])
			}
		})
	}
}

func TestListFindUpdateFlatOverwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			rec := map[string]any{"id": "ev1", "title": "Old", "params": map[string]any{"a": 1}}
			if err := st.ListUnshift(ctx, "k", raw(t, rec)); err != nil {
				t.Fatalf("unshift: %v", err)
			}
			patch := map[string]any{"title": "New", "params": map[string]any{"b": 2}}
			if err := st.ListFindUpdate(ctx, "k", FieldEquals("id", "ev1"), patch); err != nil {
				t.Fatalf("update: %v", err)
			}
			got, err := st.ListFind(ctx, "k", FieldEquals("id", "ev1"))
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(got, &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if m["title"] != "New" {
				t.Fatalf("title = %v, want New", m["title"])
			}
			// Flat overwrite: the nested map is replaced, not merged.
			params, _ := m["params"].(map[string]any)
			if _, hasOld := params["a"]; hasOld {
				t.Fatal("expected nested params to be replaced, found old key")
			}
		})
	}
}

func TestListFindUpdateMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			err := st.ListFindUpdate(ctx, "k", FieldEquals("id", "ghost"), map[string]any{"x": 1})
			if err != ErrNotFound {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestListFindDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"x", "y"} {
				if err := st.ListUnshift(ctx, "k", raw(t, map[string]string{"id": id})); err != nil {
					t.Fatalf("unshift: %v", err)
				}
			}
			removed, err := st.ListFindDelete(ctx, "k", FieldEquals("id", "x"))
			if err != nil {
				t.Fatalf("delete: %v", err)
			}
			var m map[string]string
			_ = json.Unmarshal(removed, &m)
			if m["id"] != "x" {
				t.Fatalf("removed id = %q, want x", m["id"])
			}
			if _, err := st.ListFind(ctx, "k", FieldEquals("id", "x")); err != ErrNotFound {
				t.Fatalf("find after delete: %v, want ErrNotFound", err)
			}
			if _, err := st.ListFind(ctx, "k", FieldEquals("id", "y")); err != nil {
				t.Fatalf("other item should survive: %v", err)
			}
		})
	}
}

func TestExpireHidesList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.ListUnshift(ctx, "logs/events/ev1", raw(t, map[string]string{"id": "j1"})); err != nil {
				t.Fatalf("unshift: %v", err)
			}
			// Already past due: reads must not serve it.
			if err := st.Expire(ctx, "logs/events/ev1", time.Now().Add(-time.Second)); err != nil {
				t.Fatalf("expire: %v", err)
			}
			items, info, err := st.ListGet(ctx, "logs/events/ev1", 0, 10)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(items) != 0 || info.Length != 0 {
				t.Fatalf("expired list still visible: %d items", len(items))
			}
		})
	}
}

func TestExpireFutureKeepsList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.ListUnshift(ctx, "logs/events/ev2", raw(t, map[string]string{"id": "j1"})); err != nil {
				t.Fatalf("unshift: %v", err)
			}
			if err := st.Expire(ctx, "logs/events/ev2", time.Now().Add(24*time.Hour)); err != nil {
				t.Fatalf("expire: %v", err)
			}
			items, _, err := st.ListGet(ctx, "logs/events/ev2", 0, 10)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(items) != 1 {
				t.Fatalf("future-expiry list should still be readable, got %d items", len(items))
			}
		})
	}
}
