package config

import "fmt"

// CurrentVersion is the config schema version this build reads and writes.
const CurrentVersion = 1

// VersionError reports a config file whose schema version this build
// cannot load.
type VersionError struct {
	Have int
	Want int
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Have > e.Want {
		return fmt.Sprintf("config schema version %d requires a newer build (this one reads version %d)", e.Have, e.Want)
	}
	return fmt.Sprintf("config schema version %d is no longer supported (this build reads version %d)", e.Have, e.Want)
}

// ValidateVersion accepts exactly the current schema version. Zero or
// negative counts as missing, which is also a mismatch: the defaults fill
// the version in, so a loaded config only lacks one when it was
// deliberately blanked.
func ValidateVersion(version int) error {
	if version == CurrentVersion {
		return nil
	}
	return &VersionError{Have: version, Want: CurrentVersion}
}
