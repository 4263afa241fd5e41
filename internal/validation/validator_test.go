package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCheckApplicationName(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"simple", "customer-app", false},
		{"max length", strings.Repeat("a", MaxApplicationNameLength), false},
		{"too long", strings.Repeat("a", MaxApplicationNameLength+1), true},
		{"empty", "", true},
		{"space", "my app", true},
		{"slash", "apps/one", true},
		{"non ascii", "anwendung-ä", true},
		{"punctuation", "app_1.0~beta", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckApplicationName(tt.value, true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckApplicationName(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !HasCode(err, InvalidApplicationName) {
				t.Errorf("expected code %s, got %v", InvalidApplicationName, err)
			}
		})
	}
}

func TestCheckResourceName(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"nested path", "css/site.css", false},
		{"max length", strings.Repeat("r", MaxResourceNameLength), false},
		{"too long", strings.Repeat("r", MaxResourceNameLength+1), true},
		{"backslash", `css\site.css`, true},
		{"tab", "index\t.html", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckResourceName(tt.value, true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckResourceName(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !HasCode(err, InvalidResourceName) {
				t.Errorf("expected code %s, got %v", InvalidResourceName, err)
			}
		})
	}
}

func TestCheckTicket(t *testing.T) {
	for _, n := range []int{TicketLength, TicketLengthExtended} {
		if err := CheckTicket(strings.Repeat("t", n), true); err != nil {
			t.Errorf("ticket of length %d rejected: %v", n, err)
		}
	}
	for _, n := range []int{0, 27, 29, 35, 37} {
		err := CheckTicket(strings.Repeat("t", n), true)
		if !HasCode(err, InvalidTicket) {
			t.Errorf("ticket of length %d: expected %s, got %v", n, InvalidTicket, err)
		}
	}
}

func TestCheckETag(t *testing.T) {
	if err := CheckETag("", true); err != nil {
		t.Errorf("empty etag rejected: %v", err)
	}
	if err := CheckETag(strings.Repeat("e", MaxETagLength), true); err != nil {
		t.Errorf("etag at limit rejected: %v", err)
	}
	if err := CheckETag(strings.Repeat("e", MaxETagLength+1), true); !HasCode(err, InvalidETag) {
		t.Errorf("expected %s, got %v", InvalidETag, err)
	}
}

func TestCheckTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		value   time.Time
		wantErr bool
	}{
		{"lower bound", MinTimestamp, false},
		{"upper bound", MaxTimestamp, false},
		{"now", time.Now(), false},
		{"before epoch", MinTimestamp.Add(-time.Nanosecond), true},
		{"after range", MaxTimestamp.Add(time.Nanosecond), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTimestamp("timestamp", tt.value, true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !HasCode(err, TimestampOutOfRange) {
				t.Errorf("expected code %s, got %v", TimestampOutOfRange, err)
			}
		})
	}
}

func TestCheckUtcOffset(t *testing.T) {
	tests := []struct {
		offset  time.Duration
		wantErr bool
	}{
		{0, false},
		{13 * time.Hour, false},
		{-12 * time.Hour, false},
		{5*time.Hour + 30*time.Minute, false},
		{13*time.Hour + time.Minute, true},
		{-12*time.Hour - time.Minute, true},
		{time.Hour + 30*time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.offset.String(), func(t *testing.T) {
			err := CheckUtcOffset(tt.offset, true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !HasCode(err, InvalidUtcOffset) {
				t.Errorf("expected code %s, got %v", InvalidUtcOffset, err)
			}
		})
	}
}

func TestCheckTimeRule(t *testing.T) {
	valid := DaylightSavingsRule{
		Start:  Transition{Month: 3, Week: 5, Weekday: time.Sunday, Hour: 2},
		End:    Transition{Month: 10, Week: 5, Weekday: time.Sunday, Hour: 3},
		Offset: 60 * time.Minute,
	}
	if err := CheckTimeRule(valid, true); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *DaylightSavingsRule)
	}{
		{"offset too large", func(r *DaylightSavingsRule) { r.Offset = 181 * time.Minute }},
		{"offset too small", func(r *DaylightSavingsRule) { r.Offset = -181 * time.Minute }},
		{"offset seconds", func(r *DaylightSavingsRule) { r.Offset = 90 * time.Second }},
		{"month zero", func(r *DaylightSavingsRule) { r.Start.Month = 0 }},
		{"week six", func(r *DaylightSavingsRule) { r.End.Week = 6 }},
		{"hour 24", func(r *DaylightSavingsRule) { r.Start.Hour = 24 }},
		{"minute 60", func(r *DaylightSavingsRule) { r.End.Minute = 60 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := valid
			tt.mutate(&rule)
			if err := CheckTimeRule(rule, true); !HasCode(err, InvalidTimeRule) {
				t.Errorf("expected %s, got %v", InvalidTimeRule, err)
			}
		})
	}
}

func TestPasswordChecks(t *testing.T) {
	if err := CheckNewPassword("secret", "secret", true); !HasCode(err, NewPasswordMatchesOldPassword) {
		t.Errorf("expected %s, got %v", NewPasswordMatchesOldPassword, err)
	}
	if err := CheckNewPassword("secret", "other", true); err != nil {
		t.Errorf("different password rejected: %v", err)
	}
	if err := CheckPasswordChangeAllowed("Anonymous", true); !HasCode(err, NotAccepted) {
		t.Errorf("expected %s, got %v", NotAccepted, err)
	}
	if err := CheckPasswordChangeAllowed("operator", true); err != nil {
		t.Errorf("operator rejected: %v", err)
	}
}

func TestPerformCheckDisabled(t *testing.T) {
	checks := map[string]error{
		"required":         CheckRequired("user", "", false),
		"application":      CheckApplicationName("", false),
		"resource":         CheckResourceName(strings.Repeat("r", 500), false),
		"ticket":           CheckTicket("short", false),
		"etag":             CheckETag(strings.Repeat("e", 500), false),
		"timestamp":        CheckTimestamp("ts", time.Time{}, false),
		"utc offset":       CheckUtcOffset(48*time.Hour, false),
		"time rule":        CheckTimeRule(DaylightSavingsRule{}, false),
		"same password":    CheckNewPassword("a", "a", false),
		"anonymous change": CheckPasswordChangeAllowed("Anonymous", false),
	}
	for name, err := range checks {
		if err != nil {
			t.Errorf("%s: expected nil with performCheck=false, got %v", name, err)
		}
	}
}

func TestValidationErrorIs(t *testing.T) {
	err := CheckRequired("user", " ", true)
	if !errors.Is(err, &ValidationError{}) {
		t.Error("expected errors.Is to match any ValidationError")
	}
	if !errors.Is(err, &ValidationError{Code: InvalidParams}) {
		t.Error("expected errors.Is to match by code")
	}
	if errors.Is(err, &ValidationError{Code: NotAccepted}) {
		t.Error("did not expect a match for a different code")
	}
}
