package main

import (
	"runtime/debug"

	"github.com/toolwire/mcp-stdio-go/internal/cmd"
)

func main() {
	if v := buildVersion(); v != "" {
		cmd.SetVersion(v)
	}
	cmd.Execute()
}

// buildVersion derives a version string from embedded build info so
// `go install`ed binaries report something useful without ldflags.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	v := info.Main.Version
	if v == "" || v == "(devel)" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return "dev-" + s.Value[:7]
			}
		}
		return ""
	}
	return v
}
