package version

import (
	"runtime"
	"testing"
)

func TestGet(t *testing.T) {
	oldSHA := GitSHA
	defer func() { GitSHA = oldSHA }()

	GitSHA = "abc123"
	info := Get()
	if info.GitSHA != "abc123" {
		t.Errorf("GitSHA = %q, want abc123", info.GitSHA)
	}
	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}
