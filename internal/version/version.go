// Package version holds loopr's build-time version metadata, overridable
// via -ldflags (mirroring the LOOPR_VERSION/LOOPR_COMMIT/LOOPR_DATE
// environment overrides at build time).
package version

// Version, Commit, and Date are set at build time via:
//
//	go build -ldflags "-X github.com/loopr-dev/loopr/internal/version.Version=... \
//	  -X .../version.Commit=... -X .../version.Date=..."
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)
