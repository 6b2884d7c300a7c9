package cmd

import "testing"

func TestVersionDefault(t *testing.T) {
	if Version == "" {
		t.Error("Version must have a default")
	}
}
