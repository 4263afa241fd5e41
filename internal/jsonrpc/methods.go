package jsonrpc

import (
	"fmt"
	"time"

	"github.com/plcweb/console/internal/validation"
)

// Method names used by the core. The rest of the catalog goes through Build.
const (
	MethodLogin                = "Api.Login"
	MethodLogout               = "Api.Logout"
	MethodVersion              = "Api.Version"
	MethodPing                 = "Api.Ping"
	MethodChangePassword       = "Api.ChangePassword"
	MethodBrowseTickets        = "Api.BrowseTickets"
	MethodCloseTicket          = "Api.CloseTicket"
	MethodFilesCreate          = "Files.Create"
	MethodFilesDownload        = "Files.Download"
	MethodFilesDelete          = "Files.Delete"
	MethodWebAppCreate         = "WebApp.Create"
	MethodWebAppCreateResource = "WebApp.CreateResource"
	MethodSetSystemTime        = "Plc.SetSystemTime"
	MethodSetTimeSettings      = "Plc.SetTimeSettings"
	MethodProgramRead          = "PlcProgram.Read"
	MethodProgramWrite         = "PlcProgram.Write"
)

// optional maps the zero string to an absent parameter.
func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Login builds Api.Login. mode and includeCookie are omitted when unset.
func (b *Builder) Login(user, password, mode string, includeCookie *bool) (*Request, error) {
	if err := validation.CheckRequired("user", user, b.performChecks); err != nil {
		return nil, err
	}
	params := NewParams().
		Set("user", user).
		Set("password", password).
		Set("mode", optional(mode)).
		Set("include_web_application_cookie", includeCookie)
	return b.Build(MethodLogin, params, "")
}

// Logout builds Api.Logout.
func (b *Builder) Logout() (*Request, error) {
	return b.Build(MethodLogout, nil, "")
}

// Version builds Api.Version.
func (b *Builder) Version() (*Request, error) {
	return b.Build(MethodVersion, nil, "")
}

// Ping builds Api.Ping.
func (b *Builder) Ping() (*Request, error) {
	return b.Build(MethodPing, nil, "")
}

// ChangePassword builds Api.ChangePassword for username.
func (b *Builder) ChangePassword(username, password, newPassword string) (*Request, error) {
	if err := validation.CheckRequired("username", username, b.performChecks); err != nil {
		return nil, err
	}
	if err := validation.CheckPasswordChangeAllowed(username, b.performChecks); err != nil {
		return nil, err
	}
	if err := validation.CheckNewPassword(password, newPassword, b.performChecks); err != nil {
		return nil, err
	}
	params := NewParams().
		Set("username", username).
		Set("password", password).
		Set("new_password", newPassword)
	return b.Build(MethodChangePassword, params, "")
}

// BrowseTickets builds Api.BrowseTickets, optionally filtered to one ticket.
func (b *Builder) BrowseTickets(ticket string) (*Request, error) {
	if ticket != "" {
		if err := validation.CheckTicket(ticket, b.performChecks); err != nil {
			return nil, err
		}
	}
	return b.Build(MethodBrowseTickets, NewParams().Set("id", optional(ticket)), "")
}

// CloseTicket builds Api.CloseTicket.
func (b *Builder) CloseTicket(ticket string) (*Request, error) {
	if err := validation.CheckTicket(ticket, b.performChecks); err != nil {
		return nil, err
	}
	return b.Build(MethodCloseTicket, NewParams().Set("id", ticket), "")
}

func (b *Builder) fileRequest(method, resource string) (*Request, error) {
	if err := validation.CheckRequired("resource", resource, b.performChecks); err != nil {
		return nil, err
	}
	return b.Build(method, NewParams().Set("resource", resource), "")
}

// FilesCreate builds Files.Create; the result is an upload ticket.
func (b *Builder) FilesCreate(resource string) (*Request, error) {
	return b.fileRequest(MethodFilesCreate, resource)
}

// FilesDownload builds Files.Download; the result is a download ticket.
func (b *Builder) FilesDownload(resource string) (*Request, error) {
	return b.fileRequest(MethodFilesDownload, resource)
}

// FilesDelete builds Files.Delete.
func (b *Builder) FilesDelete(resource string) (*Request, error) {
	return b.fileRequest(MethodFilesDelete, resource)
}

// WebAppCreate builds WebApp.Create. state is omitted when empty.
func (b *Builder) WebAppCreate(name, state string) (*Request, error) {
	if err := validation.CheckApplicationName(name, b.performChecks); err != nil {
		return nil, err
	}
	return b.Build(MethodWebAppCreate, NewParams().Set("name", name).Set("state", optional(state)), "")
}

// ResourceSpec describes a web application resource to create.
type ResourceSpec struct {
	AppName      string
	Name         string
	MediaType    string
	LastModified time.Time
	Visibility   string
	ETag         string
}

// WebAppCreateResource builds WebApp.CreateResource; the result is an upload ticket.
func (b *Builder) WebAppCreateResource(spec ResourceSpec) (*Request, error) {
	if err := validation.CheckApplicationName(spec.AppName, b.performChecks); err != nil {
		return nil, err
	}
	if err := validation.CheckResourceName(spec.Name, b.performChecks); err != nil {
		return nil, err
	}
	if err := validation.CheckRequired("media_type", spec.MediaType, b.performChecks); err != nil {
		return nil, err
	}
	if err := validation.CheckTimestamp("last_modified", spec.LastModified, b.performChecks); err != nil {
		return nil, err
	}
	if err := validation.CheckETag(spec.ETag, b.performChecks); err != nil {
		return nil, err
	}
	params := NewParams().
		Set("app_name", spec.AppName).
		Set("name", spec.Name).
		Set("media_type", spec.MediaType).
		Set("last_modified", formatTimestamp(spec.LastModified)).
		Set("visibility", optional(spec.Visibility)).
		Set("etag", optional(spec.ETag))
	return b.Build(MethodWebAppCreateResource, params, "")
}

// SetSystemTime builds Plc.SetSystemTime.
func (b *Builder) SetSystemTime(t time.Time) (*Request, error) {
	if err := validation.CheckTimestamp("timestamp", t, b.performChecks); err != nil {
		return nil, err
	}
	return b.Build(MethodSetSystemTime, NewParams().Set("timestamp", formatTimestamp(t)), "")
}

type transitionParams struct {
	Month   int `json:"month"`
	Week    int `json:"week"`
	Weekday int `json:"day_of_week"`
	Hour    int `json:"hour"`
	Minute  int `json:"minute"`
}

type ruleParams struct {
	Start  transitionParams `json:"start"`
	End    transitionParams `json:"end"`
	Offset string           `json:"offset"`
}

func toTransitionParams(tr validation.Transition) transitionParams {
	return transitionParams{
		Month:   tr.Month,
		Week:    tr.Week,
		Weekday: int(tr.Weekday),
		Hour:    tr.Hour,
		Minute:  tr.Minute,
	}
}

// SetTimeSettings builds Plc.SetTimeSettings. rule may be nil.
func (b *Builder) SetTimeSettings(utcOffset time.Duration, rule *validation.DaylightSavingsRule) (*Request, error) {
	if err := validation.CheckUtcOffset(utcOffset, b.performChecks); err != nil {
		return nil, err
	}
	var rp *ruleParams
	if rule != nil {
		if err := validation.CheckTimeRule(*rule, b.performChecks); err != nil {
			return nil, err
		}
		rp = &ruleParams{
			Start:  toTransitionParams(rule.Start),
			End:    toTransitionParams(rule.End),
			Offset: FormatDuration(rule.Offset),
		}
	}
	params := NewParams().
		Set("utc_offset", FormatDuration(utcOffset)).
		Set("rule", rp)
	return b.Build(MethodSetTimeSettings, params, "")
}

// ProgramRead builds PlcProgram.Read for a variable. mode is omitted when empty.
func (b *Builder) ProgramRead(variable, mode string) (*Request, error) {
	if err := validation.CheckRequired("var", variable, b.performChecks); err != nil {
		return nil, err
	}
	return b.Build(MethodProgramRead, NewParams().Set("var", variable).Set("mode", optional(mode)), "")
}

// ProgramWrite builds PlcProgram.Write for a variable.
func (b *Builder) ProgramWrite(variable string, value interface{}, mode string) (*Request, error) {
	if err := validation.CheckRequired("var", variable, b.performChecks); err != nil {
		return nil, err
	}
	params := NewParams().
		Set("var", variable).
		Set("value", value).
		Set("mode", optional(mode))
	return b.Build(MethodProgramWrite, params, "")
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// FormatDuration renders d as an ISO 8601 duration in hours and minutes, e.g. "PT5H30M" or "-PT3H".
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h == 0 && m == 0:
		return "PT0M"
	case m == 0:
		return fmt.Sprintf("%sPT%dH", sign, h)
	case h == 0:
		return fmt.Sprintf("%sPT%dM", sign, m)
	}
	return fmt.Sprintf("%sPT%dH%dM", sign, h, m)
}
