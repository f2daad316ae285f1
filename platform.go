package ocidist

import (
	"runtime"

	"github.com/meigma/ocidist/core"
)

// DefaultPlatform returns a PlatformSelector that matches the entry whose
// OS and architecture equal the running process's GOOS/GOARCH. An index
// entry with no platform never matches; resolving against an index with
// no matching entry fails with core.ErrPlatformNotFound.
func DefaultPlatform() core.PlatformSelector {
	return MatchPlatform(runtime.GOOS, runtime.GOARCH)
}

// MatchPlatform returns a PlatformSelector that matches entries with the
// given os/arch, ignoring variant.
func MatchPlatform(os, arch string) core.PlatformSelector {
	return func(p *core.Platform) bool {
		if p == nil {
			return false
		}
		return p.OS == os && p.Architecture == arch
	}
}

// AnyPlatform is a PlatformSelector that matches the first entry in an
// index regardless of platform.
func AnyPlatform(*core.Platform) bool {
	return true
}
