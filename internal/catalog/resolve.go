package catalog

import (
	"github.com/Masterminds/semver/v3"

	"github.com/conneroisu/scaffolder/internal/descriptor"
)

// resolveVersion picks one candidate. Candidates whose version does not
// parse only match exactly.
func resolveVersion(candidates []*descriptor.Descriptor, version string) (*descriptor.Descriptor, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	if version == "" {
		return highest(candidates, nil)
	}

	for _, d := range candidates {
		if d.Version == version {
			return d, true
		}
	}
	if want, err := semver.NewVersion(version); err == nil {
		for _, d := range candidates {
			if v, err := d.SemVer(); err == nil && v.Equal(want) {
				return d, true
			}
		}
	}

	constraint, err := semver.NewConstraint(version)
	if err != nil {
		return nil, false
	}
	return highest(candidates, constraint)
}

func highest(candidates []*descriptor.Descriptor, constraint *semver.Constraints) (*descriptor.Descriptor, bool) {
	var best *descriptor.Descriptor
	var bestVersion *semver.Version

	for _, d := range candidates {
		v, err := d.SemVer()
		if err != nil {
			continue
		}
		if constraint != nil && !constraint.Check(v) {
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			best, bestVersion = d, v
		}
	}
	return best, best != nil
}
