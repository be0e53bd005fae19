package config

// Build metadata set at link time:
//
//	go build -ldflags "-X payrelay/internal/config.version=1.0.0 \
//	    -X payrelay/internal/config.commit=$(git rev-parse --short HEAD)" ./cmd/relay
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
