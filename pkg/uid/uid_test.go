package uid

import (
	"regexp"
	"testing"
)

func TestNewFormat(t *testing.T) {
	t.Parallel()
	re := regexp.MustCompile(`^e[0-9a-f]{32}$`)
	id := New("e")
	if !re.MatchString(id) {
		t.Fatalf("unexpected id format: %q", id)
	}
	if New("E")[0] != 'e' {
		t.Fatal("prefix should be lowercased")
	}
}

func TestNewUnique(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := New("e")
		if seen[id] {
			t.Fatalf("duplicate id after %d draws: %s", i, id)
		}
		seen[id] = true
	}
}
