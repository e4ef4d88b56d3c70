// Package version holds build metadata stamped in at link time, e.g.
//
//	go build -ldflags "-X github.com/lencap/vm/internal/version.Version=0.4.0 \
//	    -X github.com/lencap/vm/internal/version.Commit=$(git rev-parse HEAD)"
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String is the one-line form printed by vm --version.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, ShortCommit(), BuildDate)
}

// ShortCommit abbreviates a full SHA to 12 characters.
func ShortCommit() string {
	if len(Commit) > 12 {
		return Commit[:12]
	}
	return Commit
}
