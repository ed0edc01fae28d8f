package repo_test

import (
	"context"
	"testing"
	"time"

	"leanflow/internal/config"
	"leanflow/internal/db"
	"leanflow/internal/domain"
	"leanflow/internal/engine"
	"leanflow/internal/migrate"
	"leanflow/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	eng := engine.New(config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	item, err := eng.CreateItem(engine.ItemCreateOptions{Title: "persisted", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	opID, err := eng.CreateOperation([]domain.FileChange{
		{Type: domain.ChangeCreate, Path: "notes.md", Content: []byte("hello")},
	}, nil, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := eng.ExecuteOperation(opID, "tester"); err != nil || !ok {
		t.Fatalf("execute: ok=%v err=%v", ok, err)
	}

	if err := r.SaveSnapshot(ctx, eng.State()); err != nil {
		t.Fatalf("save: %v", err)
	}
	st, found, err := r.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatalf("expected stored snapshot")
	}

	restored, err := engine.Restore(config.Default(), st)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := restored.GetItem(item.ID)
	if err != nil || got.Title != "persisted" {
		t.Fatalf("item: %+v err=%v", got, err)
	}
	content, ok, err := restored.FileContent("notes.md", "")
	if err != nil || !ok || string(content) != "hello" {
		t.Fatalf("file: ok=%v err=%v content=%q", ok, err, content)
	}
	op, err := restored.Operation(opID)
	if err != nil || op.Status != domain.OpCommitted {
		t.Fatalf("operation: %+v err=%v", op, err)
	}
	if len(restored.Events.All()) == 0 {
		t.Fatalf("expected events restored")
	}
}

func TestLoadEmptyWorkspace(t *testing.T) {
	r := newTestRepo(t)
	_, found, err := r.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatalf("empty workspace should report no snapshot")
	}
}

func TestSaveReplacesPrevious(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	eng := engine.New(config.Default())
	if _, err := eng.CreateItem(engine.ItemCreateOptions{Title: "one", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	if err := r.SaveSnapshot(ctx, eng.State()); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	if _, err := eng.CreateItem(engine.ItemCreateOptions{Title: "two", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	if err := r.SaveSnapshot(ctx, eng.State()); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	st, found, err := r.LoadSnapshot(ctx)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if len(st.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(st.Items))
	}
}
