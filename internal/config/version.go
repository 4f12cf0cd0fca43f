package config

import "fmt"

// CurrentVersion is the config format this build reads. A file without a
// version is treated as current.
const CurrentVersion = 1

// Version mismatch reasons reported in VersionError.Reason.
const (
	reasonOutdated = "missing or outdated"
	reasonNewer    = "newer than this build"
)

// VersionError reports a config file written for another format version.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == reasonNewer {
		return fmt.Sprintf("config version %d is newer than this build, which reads version %d; upgrade agentrun", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is %s; agentrun reads version %d (see `agentrun config schema`)", e.Version, e.Reason, e.Current)
}

// ValidateVersion reports whether version can be read by this build.
func ValidateVersion(version int) error {
	switch {
	case version < CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: reasonOutdated}
	case version > CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: reasonNewer}
	}
	return nil
}
