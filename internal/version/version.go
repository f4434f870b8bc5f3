package version

import "runtime/debug"

// Version is set at build time via -ldflags. When left at the default it
// falls back to the module version recorded by go install, if any.
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		Version = v
	}
}
