// Package version exposes the build metadata stamped into the scanwatch
// binary. Release builds overwrite the variables below with -ldflags
// -X directives; anything else identifies itself as a source build.
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String renders the build metadata as a single line for --version output.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
