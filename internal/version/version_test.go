package version

import (
	"runtime/debug"
	"testing"
)

func withBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	prev := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = prev })
}

func TestResolveFromBuildInfo(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	info := Resolve()
	if info.Version != "v0.3.1" || info.Commit != "0123456789abcdef0123" || info.BuildTime != "2026-01-02T03:04:05Z" || !info.Modified {
		t.Fatalf("unexpected info %+v", info)
	}
	if got, want := String(), "v0.3.1 (0123456789ab+dirty)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestResolveDevelFallsBackToBuildTime(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"}},
	})

	info := Resolve()
	if info.Version != "2026-01-02T03:04:05Z" {
		t.Fatalf("Version = %q", info.Version)
	}
	if got := String(); got != info.Version {
		t.Fatalf("String() = %q without a commit", got)
	}
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	withBuildInfo(t, nil)

	if info := Resolve(); info.Version == "" || info.Commit != "" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestShortCommit(t *testing.T) {
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("shortCommit(abc) = %q", got)
	}
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortCommit = %q", got)
	}
}
