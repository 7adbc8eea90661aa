package excludes

import (
	"testing"

	"github.com/mcpilot/mcpilot/internal/models"
)

func TestDefaultsByKind(t *testing.T) {
	tests := []struct {
		kind    models.ServerKind
		want    string
		wantNot string
	}{
		{models.ServerKindNode, "node_modules", "__pycache__"},
		{models.ServerKindPython, "__pycache__", "node_modules"},
		{models.ServerKindContainer, ".DS_Store", "node_modules"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			patterns := Defaults(tt.kind)
			if !contains(patterns, tt.want) {
				t.Errorf("Defaults(%s) missing %q", tt.kind, tt.want)
			}
			if contains(patterns, tt.wantNot) {
				t.Errorf("Defaults(%s) should not contain %q", tt.kind, tt.wantNot)
			}
		})
	}
}

func TestMergeDeduplicates(t *testing.T) {
	merged := Merge(models.ServerKindNode, []string{"node_modules", "secrets/*"})

	count := 0
	for _, p := range merged {
		if p == "node_modules" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("node_modules appears %d times, want 1", count)
	}
	if !contains(merged, "secrets/*") {
		t.Error("user pattern secrets/* missing from merge")
	}
}

func contains(patterns []string, want string) bool {
	for _, p := range patterns {
		if p == want {
			return true
		}
	}
	return false
}
