// Package version exposes build information injected at link time:
//
//	go build -ldflags "-X github.com/signal-fire/client-go/internal/version.Version=1.0.0 \
//	                   -X github.com/signal-fire/client-go/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/signal-fire/client-go/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

// Set by the linker; the defaults apply to a plain go build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String formats the full version line printed by the version command.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
