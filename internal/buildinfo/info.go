// Package buildinfo carries version metadata injected at link time.
package buildinfo

import "fmt"

// Set with -ldflags "-X github.com/Muesli84/FinanceManager-sub001/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns the version line printed by finman --version.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
