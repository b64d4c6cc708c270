package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestProfileKind_Satisfies(t *testing.T) {
	flagKind := ProfileKind{Name: "club", Kind: KindBusiness, Table: "clubs", Predicate: PredicateFlag, FlagColumn: "onboarding_complete"}
	existenceKind := ProfileKind{Name: "academy", Kind: KindBusiness, Table: "academias", Predicate: PredicateExistence}

	tests := []struct {
		name string
		kind ProfileKind
		rec  *ProfileRecord
		want bool
	}{
		{"flag: no record", flagKind, nil, false},
		{"flag: flag true", flagKind, &ProfileRecord{UserID: "u", OnboardingComplete: boolPtr(true)}, true},
		{"flag: flag false", flagKind, &ProfileRecord{UserID: "u", OnboardingComplete: boolPtr(false)}, false},
		{"flag: flag null", flagKind, &ProfileRecord{UserID: "u"}, false},
		{"existence: no record", existenceKind, nil, false},
		{"existence: record", existenceKind, &ProfileRecord{UserID: "u"}, true},
		{"existence: record with false flag", existenceKind, &ProfileRecord{UserID: "u", OnboardingComplete: boolPtr(false)}, true},
		{"unknown predicate", ProfileKind{Predicate: "other"}, &ProfileRecord{UserID: "u"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.Satisfies(tt.rec); got != tt.want {
				t.Errorf("Satisfies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategory_Valid(t *testing.T) {
	for _, c := range []Category{CategoryPublic, CategoryProtected, CategoryAuth, CategoryOnboarding} {
		if !c.Valid() {
			t.Errorf("Category(%q).Valid() = false, want true", c)
		}
	}
	if Category("admin").Valid() {
		t.Error(`Category("admin").Valid() = true, want false`)
	}
}

func TestIncomplete(t *testing.T) {
	s := Incomplete()
	if s.Completed || s.Kind != KindNone || s.MatchedProfile != "" {
		t.Errorf("Incomplete() = %+v", s)
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Error("session should not be expired")
	}
	if !s.Expired(now.Add(2 * time.Minute)) {
		t.Error("session should be expired")
	}
	if (&Session{}).Expired(now) {
		t.Error("zero ExpiresAt means no expiry")
	}
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")

	sessErr := &SessionResolutionError{Reason: "refresh", Err: cause}
	if !errors.Is(sessErr, cause) {
		t.Error("SessionResolutionError should unwrap to its cause")
	}

	lookupErr := &ProfileLookupError{Kinds: []string{"club"}, Err: cause}
	if !errors.Is(lookupErr, cause) {
		t.Error("ProfileLookupError should unwrap to its cause")
	}

	wrapped := fmt.Errorf("load: %w", &ConfigurationError{Field: "routes", Reason: "empty"})
	if !IsConfigurationError(wrapped) {
		t.Error("IsConfigurationError should detect wrapped ConfigurationError")
	}
	if IsConfigurationError(cause) {
		t.Error("IsConfigurationError should be false for unrelated errors")
	}
}
