package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersionAcceptsCurrent(t *testing.T) {
	if err := ValidateVersion(CurrentVersion); err != nil {
		t.Fatalf("current version must validate, got %v", err)
	}
}

func TestValidateVersionRejectsMissingAndOld(t *testing.T) {
	for _, v := range []int{0, -1} {
		err := ValidateVersion(v)
		var ve *VersionError
		if !errors.As(err, &ve) {
			t.Fatalf("version %d: expected *VersionError, got %v", v, err)
		}
		if !strings.Contains(ve.Error(), "no longer supported") {
			t.Fatalf("unexpected message: %q", ve.Error())
		}
	}
}

func TestValidateVersionRejectsNewer(t *testing.T) {
	err := ValidateVersion(CurrentVersion + 1)
	var ve *VersionError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VersionError, got %v", err)
	}
	if !strings.Contains(ve.Error(), "newer build") {
		t.Fatalf("a too-new config should point at upgrading: %q", ve.Error())
	}
}

func TestVersionErrorNilReceiver(t *testing.T) {
	var ve *VersionError
	if ve.Error() != "" {
		t.Fatal("nil receiver should render empty")
	}
}
