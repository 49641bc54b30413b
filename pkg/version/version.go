// Package version derives the build identity reported in log banners, the
// status endpoint, and polisctl --version output.
//
// The commit is resolved once at init: an -ldflags override wins, then the
// vcs.revision the Go toolchain stamps into the binary, then "dev". Builds
// from a modified working tree carry a "-dirty" suffix so a deployment that
// does not match its tag is visible in /api/v1/status.
package version

import "runtime/debug"

// AppName prefixes every rendered version string.
const AppName = "polis"

// commitOverride is injected with -ldflags for builds without VCS metadata,
// such as container builds from an exported source tarball.
var commitOverride string

// GitCommit identifies the build: a short commit hash, possibly suffixed
// with "-dirty", or "dev" when nothing better is known.
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return "dev"
	}
	if dirty {
		return shorten(revision) + "-dirty"
	}
	return shorten(revision)
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full renders "polis/<commit>" for log banners and user-agent strings.
func Full() string {
	return AppName + "/" + GitCommit
}
