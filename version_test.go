package kustoingest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/mod/semver"
)

func TestVersion(t *testing.T) {
	r := require.New(t)

	r.True(semver.IsValid(version), "version %q is not a semantic version", version)
	r.Equal(semver.Canonical(version), version)
	r.Equal(version, Version())
}
