package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/pscheid92/crowdpulse/internal/platform/version.Version=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Protocol is the revision of the websocket frame format. Bump it whenever a
// frame field changes meaning so clients can refuse a server they cannot read.
const Protocol = 1

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Protocol  int    `json:"protocol"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Protocol:  Protocol,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s, protocol v%d)", i.Version, i.Commit, i.BuildTime, i.GoVersion, i.Protocol)
}
