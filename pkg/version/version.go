// Package version carries build metadata injected at link time.
package version

// Set via -ldflags "-X github.com/mehdiaksoy/mateai/pkg/version.Version=..."
var (
	Version = "dev"
	Commit  = "unknown"
)

// String returns the human-readable version.
func String() string {
	return Version + " (" + Commit + ")"
}
