package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/coderoom/internal/rooms"
)

func TestLoadOrCreatePersistsStableID(testContext *testing.T) {
	path := filepath.Join(testContext.TempDir(), "nested", "participant.json")
	store, err := NewStore(path)
	if err != nil {
		testContext.Fatalf("unexpected store error: %v", err)
	}

	first, err := store.LoadOrCreate("")
	if err != nil {
		testContext.Fatalf("unexpected create error: %v", err)
	}
	if first.UserID == "" || first.UserName != rooms.DefaultAuthorName {
		testContext.Fatalf("unexpected identity %+v", first)
	}
	info, err := os.Stat(path)
	if err != nil {
		testContext.Fatalf("expected identity file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		testContext.Fatalf("expected private file mode, got %v", info.Mode().Perm())
	}

	second, err := store.LoadOrCreate("Ada")
	if err != nil {
		testContext.Fatalf("unexpected load error: %v", err)
	}
	if second.UserID != first.UserID || second.UserName != "Ada" {
		testContext.Fatalf("expected same id with new name, got %+v", second)
	}

	reloaded, err := store.LoadOrCreate("")
	if err != nil {
		testContext.Fatalf("unexpected reload error: %v", err)
	}
	if reloaded != second {
		testContext.Fatalf("expected %+v, got %+v", second, reloaded)
	}
}

func TestLoadOrCreateRejectsCorruptFile(testContext *testing.T) {
	path := filepath.Join(testContext.TempDir(), "participant.json")
	if err := os.WriteFile(path, []byte(`{"userName":"Ada"}`), 0o600); err != nil {
		testContext.Fatalf("failed to seed file: %v", err)
	}
	store, err := NewStore(path)
	if err != nil {
		testContext.Fatalf("unexpected store error: %v", err)
	}
	if _, err := store.LoadOrCreate(""); !errors.Is(err, rooms.ErrInvalidUserID) {
		testContext.Fatalf("expected invalid user id error, got %v", err)
	}
}

func TestLoadOrCreateReportsIDFailure(testContext *testing.T) {
	store, err := NewStore(filepath.Join(testContext.TempDir(), "participant.json"))
	if err != nil {
		testContext.Fatalf("unexpected store error: %v", err)
	}
	store.newID = func() (string, error) { return "", errors.New("entropy exhausted") }
	if _, err := store.LoadOrCreate("Ada"); err == nil {
		testContext.Fatalf("expected id generation error")
	}
}

func TestNewStoreRequiresPath(testContext *testing.T) {
	if _, err := NewStore("  "); err == nil {
		testContext.Fatalf("expected missing path error")
	}
}
