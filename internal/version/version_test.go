package version

import (
	"runtime/debug"
	"testing"
)

func TestResolveFromBuildInfo(t *testing.T) {
	t.Parallel()
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	info := resolve(Info{}, bi)
	if info.Version != "v1.2.3" || info.BuildTime != "2026-01-02T03:04:05Z" || !info.Modified {
		t.Fatalf("unexpected info: %+v", info)
	}
	if got := info.String(); got != "v1.2.3 (0123456789ab-dirty)" {
		t.Fatalf("String: got %q", got)
	}
}

func TestResolveLdflagsWin(t *testing.T) {
	t.Parallel()
	bi := &debug.BuildInfo{
		Main:     debug.Module{Version: "v9.9.9"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffff"}},
	}
	info := resolve(Info{Version: "v1.0.0", Commit: "abc"}, bi)
	if info.String() != "v1.0.0 (abc)" {
		t.Fatalf("String: got %q", info.String())
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	info := resolve(Info{}, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if info.String() != "dev" {
		t.Fatalf("String: got %q", info.String())
	}
	if resolve(Info{}, nil).Version != "dev" {
		t.Fatal("nil build info should resolve to dev")
	}
}
