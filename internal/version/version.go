package version

const (
	Version     = "0.1.0"
	Name        = "elmcore"
	Description = "ISO 14229 UDS/KWP2000 diagnostic engine for clone ELM327 adapters over ISO 15765-4 CAN"
	URL         = "https://github.com/mlow-diag/elmcore"
)

// Injected at build time via -ldflags
var (
	GitHash   = "dev"
	BuildTime = "unknown"
)

// FullVersion returns version string with git hash and build time.
func FullVersion() string {
	return Version + " (" + GitHash + ") built " + BuildTime
}
