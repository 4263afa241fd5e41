// Package validation implements the local parameter checks applied before a request
// is sent to the controller. Every check takes a performCheck flag; when it is false
// the check returns nil unconditionally so expert callers can pass values through
// untouched and let the controller decide.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code identifies the reason a value was rejected.
type Code string

const (
	InvalidParams                 Code = "InvalidParams"
	InvalidApplicationName        Code = "InvalidApplicationName"
	InvalidResourceName           Code = "InvalidResourceName"
	InvalidTicket                 Code = "InvalidTicket"
	InvalidETag                   Code = "InvalidETag"
	TimestampOutOfRange           Code = "TimestampOutOfRange"
	InvalidUtcOffset              Code = "InvalidUtcOffset"
	InvalidTimeRule               Code = "InvalidTimeRule"
	NewPasswordMatchesOldPassword Code = "NewPasswordMatchesOldPassword"
	NotAccepted                   Code = "NotAccepted"
)

// Limits enforced by the checks below.
const (
	MaxApplicationNameLength = 100
	MaxResourceNameLength    = 200
	MaxETagLength            = 128

	TicketLength         = 28
	TicketLengthExtended = 36

	MaxUtcOffset      = 13 * time.Hour
	MinUtcOffset      = -12 * time.Hour
	MaxDaylightOffset = 180 * time.Minute

	// AnonymousUser is the built-in account that is used without a password.
	AnonymousUser = "Anonymous"
)

const (
	applicationReserved = `/\:*?"<>|`
	resourceReserved    = `\:*?"<>|`
)

var (
	// MinTimestamp and MaxTimestamp bound the controller's date-and-time representation.
	MinTimestamp = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxTimestamp = time.Date(2554, time.July, 21, 23, 34, 33, 709551615, time.UTC)
)

// ValidationError represents a value rejected before transmission
type ValidationError struct {
	Code    Code        `json:"code"`
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface for ValidationError
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error %s for field '%s': %s", ve.Code, ve.Field, ve.Message)
}

// Is reports whether target is a ValidationError with the same code.
// A target without a code matches any ValidationError.
func (ve *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == ve.Code
}

// HasCode reports whether err carries a ValidationError with the given code.
func HasCode(err error, code Code) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Code == code
}

func newError(code Code, field, message string, value interface{}) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: message, Value: value}
}

// CheckRequired rejects empty or whitespace-only strings.
func CheckRequired(field, value string, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if strings.TrimSpace(value) == "" {
		return newError(InvalidParams, field, "value cannot be empty", value)
	}
	return nil
}

// CheckApplicationName validates a web application name.
func CheckApplicationName(name string, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if err := checkName(name, MaxApplicationNameLength, applicationReserved); err != "" {
		return newError(InvalidApplicationName, "name", err, name)
	}
	return nil
}

// CheckResourceName validates a web application resource name. Unlike application
// names, resource names may contain '/' to address nested paths.
func CheckResourceName(name string, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if err := checkName(name, MaxResourceNameLength, resourceReserved); err != "" {
		return newError(InvalidResourceName, "name", err, name)
	}
	return nil
}

func checkName(name string, maxLength int, reserved string) string {
	if name == "" {
		return "name cannot be empty"
	}
	if len(name) > maxLength {
		return fmt.Sprintf("name exceeds maximum length of %d characters", maxLength)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x21 || c > 0x7e {
			return fmt.Sprintf("character at position %d is not printable ASCII", i)
		}
		if strings.IndexByte(reserved, c) >= 0 {
			return fmt.Sprintf("character %q is not allowed", c)
		}
	}
	return ""
}

// CheckTicket validates the length of a ticket identifier.
func CheckTicket(ticket string, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if len(ticket) != TicketLength && len(ticket) != TicketLengthExtended {
		return newError(InvalidTicket, "ticket",
			fmt.Sprintf("ticket must be %d or %d characters long, got %d", TicketLength, TicketLengthExtended, len(ticket)), ticket)
	}
	return nil
}

// CheckETag validates an entity tag; an empty tag means "not set".
func CheckETag(etag string, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if len(etag) > MaxETagLength {
		return newError(InvalidETag, "etag", fmt.Sprintf("etag exceeds maximum length of %d characters", MaxETagLength), etag)
	}
	return nil
}

// CheckTimestamp validates that t lies inside the controller's representable range.
func CheckTimestamp(field string, t time.Time, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if t.Before(MinTimestamp) || t.After(MaxTimestamp) {
		return newError(TimestampOutOfRange, field,
			fmt.Sprintf("timestamp must be between %s and %s", MinTimestamp.Format(time.RFC3339), MaxTimestamp.Format(time.RFC3339Nano)), t)
	}
	return nil
}

// CheckUtcOffset validates a standard time offset from UTC.
func CheckUtcOffset(offset time.Duration, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if offset%time.Minute != 0 {
		return newError(InvalidUtcOffset, "utc_offset", "offset must be a whole number of minutes", offset.String())
	}
	if offset < MinUtcOffset || offset > MaxUtcOffset {
		return newError(InvalidUtcOffset, "utc_offset", "offset must be between -12h and +13h", offset.String())
	}
	return nil
}

// CheckDaylightOffset validates the additional offset applied during daylight saving time.
func CheckDaylightOffset(offset time.Duration, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if offset%time.Minute != 0 {
		return newError(InvalidTimeRule, "offset", "offset must be a whole number of minutes", offset.String())
	}
	if offset < -MaxDaylightOffset || offset > MaxDaylightOffset {
		return newError(InvalidTimeRule, "offset", "offset must be within 180 minutes", offset.String())
	}
	return nil
}

// Transition describes when a daylight saving period starts or ends.
type Transition struct {
	Month   int          `json:"month"`
	Week    int          `json:"week"`
	Weekday time.Weekday `json:"day_of_week"`
	Hour    int          `json:"hour"`
	Minute  int          `json:"minute"`
}

// DaylightSavingsRule is the rule attached to a time settings request.
type DaylightSavingsRule struct {
	Start  Transition    `json:"start"`
	End    Transition    `json:"end"`
	Offset time.Duration `json:"-"`
}

// CheckTimeRule validates a daylight saving rule.
func CheckTimeRule(rule DaylightSavingsRule, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if err := CheckDaylightOffset(rule.Offset, true); err != nil {
		return err
	}
	if msg := checkTransition(rule.Start); msg != "" {
		return newError(InvalidTimeRule, "start", msg, rule.Start)
	}
	if msg := checkTransition(rule.End); msg != "" {
		return newError(InvalidTimeRule, "end", msg, rule.End)
	}
	return nil
}

func checkTransition(tr Transition) string {
	switch {
	case tr.Month < 1 || tr.Month > 12:
		return "month must be between 1 and 12"
	case tr.Week < 1 || tr.Week > 5:
		return "week must be between 1 and 5"
	case tr.Weekday < time.Sunday || tr.Weekday > time.Saturday:
		return "day of week must be between 0 and 6"
	case tr.Hour < 0 || tr.Hour > 23:
		return "hour must be between 0 and 23"
	case tr.Minute < 0 || tr.Minute > 59:
		return "minute must be between 0 and 59"
	}
	return ""
}

// CheckNewPassword rejects a password change that would keep the current password.
func CheckNewPassword(current, next string, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if current == next {
		return newError(NewPasswordMatchesOldPassword, "new_password", "new password must differ from the current password", nil)
	}
	return nil
}

// CheckPasswordChangeAllowed rejects password changes for the anonymous account.
func CheckPasswordChangeAllowed(user string, performCheck bool) error {
	if !performCheck {
		return nil
	}
	if strings.EqualFold(user, AnonymousUser) {
		return newError(NotAccepted, "username", "the anonymous user cannot change its password", user)
	}
	return nil
}
