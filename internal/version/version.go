// Package version provides build-time version information for the notifier.
// Version, Commit, and BuildTime are populated via ldflags during the build.
package version

// Build information variables, set via ldflags at build time:
//
//	go build -ldflags "-X github.com/doughall/notifier/internal/version.Version=1.0.0 \
//	                   -X github.com/doughall/notifier/internal/version.Commit=abc123 \
//	                   -X github.com/doughall/notifier/internal/version.BuildTime=2026-01-29T12:00:00Z"
var (
	// Version is the semantic version (e.g., "1.0.0", "dev").
	Version = "dev"

	// Commit is the git commit hash the binary was built from.
	Commit = "unknown"

	// BuildTime is when the binary was built (RFC3339).
	BuildTime = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return "notifier " + Version + " (commit: " + Commit + ", built: " + BuildTime + ")"
}
