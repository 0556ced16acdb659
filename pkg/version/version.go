// Package version carries build metadata stamped at link time:
//
//	go build -ldflags "-X .../pkg/version.Version=v1.2.3 \
//	  -X .../pkg/version.Commit=$(git rev-parse --short HEAD) \
//	  -X .../pkg/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

// Values reported by the version command. Unstamped development builds
// show the defaults.
var (
	Version = "dev"
	Commit  = "<unknown>"
	Date    = "<unknown>"
)
