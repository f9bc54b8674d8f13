// Package version contains AdGuard DHCP version information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
)

// Channel constants.
const (
	ChannelBeta        = "beta"
	ChannelDevelopment = "development"
	ChannelRelease     = "release"
)

// These are set by the linker.  Unfortunately we cannot set constants during
// linking, and Go doesn't have a concept of immutable variables, so to be
// thorough we have to only export them through getters.
var (
	channel    string = ChannelDevelopment
	version    string
	committime string
)

// Channel returns the current AdGuard DHCP release channel.
func Channel() (v string) {
	return channel
}

// Version returns the AdGuard DHCP build version.
func Version() (v string) {
	return version
}

// fmtModule returns formatted information about module.  The result looks like:
//
//	github.com/Username/module@v1.2.3 (sum: someHASHSUM=)
func fmtModule(m *debug.Module) (formatted string) {
	if m == nil {
		return ""
	}

	if repl := m.Replace; repl != nil {
		return fmtModule(repl)
	}

	b := &strings.Builder{}

	b.WriteString(m.Path)
	if ver := m.Version; ver != "" {
		sep := "@"
		if ver == "(devel)" {
			sep = " "
		}

		b.WriteString(sep)
		b.WriteString(ver)
	}

	if sum := m.Sum; sum != "" {
		b.WriteString(" (sum: ")
		b.WriteString(sum)
		b.WriteString(")")
	}

	return b.String()
}

// Verbose returns formatted build information.  Output example:
//
//	AdGuard DHCP
//	Version: v0.1.0
//	Channel: development
//	Go version: go1.24.5
//	Commit time: 2025-06-30 16:26:08 +0300 MSK
//	GOOS: linux
//	GOARCH: amd64
//	Dependencies:
//	        ...
func Verbose() (v string) {
	b := &strings.Builder{}

	_, _ = fmt.Fprintf(b, "AdGuard DHCP\n")
	_, _ = fmt.Fprintf(b, "Version: %s\n", version)
	_, _ = fmt.Fprintf(b, "Channel: %s\n", channel)
	_, _ = fmt.Fprintf(b, "Go version: %s\n", runtime.Version())

	writeCommitTime(b)

	_, _ = fmt.Fprintf(b, "GOOS: %s\n", runtime.GOOS)
	_, _ = fmt.Fprintf(b, "GOARCH: %s\n", runtime.GOARCH)

	info, ok := debug.ReadBuildInfo()
	if !ok || len(info.Deps) == 0 {
		return b.String()
	}

	_, _ = fmt.Fprintf(b, "Dependencies:\n")
	for _, dep := range info.Deps {
		if depStr := fmtModule(dep); depStr != "" {
			_, _ = fmt.Fprintf(b, "\t%s\n", depStr)
		}
	}

	return b.String()
}

func writeCommitTime(b *strings.Builder) {
	if committime == "" {
		return
	}

	commitTimeUnix, err := strconv.ParseInt(committime, 10, 64)
	if err != nil {
		_, _ = fmt.Fprintf(b, "Commit time: parse error: %s\n", err)
	} else {
		_, _ = fmt.Fprintf(b, "Commit time: %s\n", time.Unix(commitTimeUnix, 0))
	}
}
