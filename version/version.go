package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Build information. These variables are set at build time via ldflags.
var (
	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"

	// Version is the semantic version (if tagged)
	Version = "dev"
)

// EngineVersion is the version of the training/prediction algorithms.
// Bump the minor whenever a change makes previously trained models incompatible.
const EngineVersion = "2.2.0"

// Info contains version and build information
type Info struct {
	CommitHash    string `json:"commit_hash"`
	BuildTime     string `json:"build_time"`
	Version       string `json:"version"`
	EngineVersion string `json:"engine_version"`
	GoVersion     string `json:"go_version"`
	Platform      string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		CommitHash:    CommitHash,
		BuildTime:     BuildTime,
		Version:       Version,
		EngineVersion: EngineVersion,
		GoVersion:     runtime.Version(),
		Platform:      fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	if i.Version != "dev" {
		return fmt.Sprintf("nlu %s (engine %s, commit %s, built %s)", i.Version, i.EngineVersion, i.CommitHash, i.BuildTime)
	}
	return fmt.Sprintf("nlu dev (engine %s, commit %s, built %s)", i.EngineVersion, i.CommitHash, i.BuildTime)
}

// Short returns a short version string with just the commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// MinorFloor truncates v to "major.minor.0". Patch releases never change
// model or cache compatibility.
func MinorFloor(v string) (string, error) {
	sv, err := semver.NewVersion(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d.0", sv.Major(), sv.Minor()), nil
}

// Compatible reports whether two versions share the same major and minor.
func Compatible(a, b string) bool {
	va, err := semver.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return false
	}
	return va.Major() == vb.Major() && va.Minor() == vb.Minor()
}
