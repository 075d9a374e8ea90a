package version

// Version information set via ldflags during build
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// FullVersion returns a formatted version string
func FullVersion() string {
	if Version == "dev" {
		return "udptrigger development build"
	}
	return "udptrigger " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ")"
}

// UserAgent returns the product token sent in HTTP Server headers
func UserAgent() string {
	return "udptrigger/" + Version
}
