// Package content renders controller responses for the terminal: JSON results
// with syntax highlighting, bulk outcomes as tables and contextual errors as
// bordered panels.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/plcweb/console/internal/config"
	apperrors "github.com/plcweb/console/internal/errors"
	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/protocol"
)

// RenderingPreferences control layout details.
type RenderingPreferences struct {
	ShowLineNumbers bool
	MaxTableRows    int
	MaxCellWidth    int
	Indent          string
}

// Renderer formats results, bulk outcomes and errors.
type Renderer struct {
	syntaxHighlighter *SyntaxHighlighter
	themeManager      *ThemeManager
	preferences       RenderingPreferences
	mutex             sync.RWMutex
}

// RendererOption configures a Renderer.
type RendererOption func(*rendererOptions)

type rendererOptions struct {
	plain       bool
	preferences *RenderingPreferences
}

// WithPlainOutput disables colors and syntax highlighting.
func WithPlainOutput() RendererOption {
	return func(o *rendererOptions) { o.plain = true }
}

// WithPreferences replaces the default layout preferences.
func WithPreferences(p RenderingPreferences) RendererOption {
	return func(o *rendererOptions) { o.preferences = &p }
}

// NewRenderer creates a renderer using theme, or the built-in palette when nil.
func NewRenderer(theme *config.Theme, opts ...RendererOption) (*Renderer, error) {
	o := &rendererOptions{}
	for _, opt := range opts {
		opt(o)
	}

	formatterName, styleName := "terminal256", "github"
	if theme != nil && theme.Syntax != "" {
		styleName = theme.Syntax
	}
	if o.plain {
		formatterName = "noop"
	}
	highlighter, err := NewSyntaxHighlighter(styleName, formatterName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize syntax highlighter: %w", err)
	}

	r := &Renderer{
		syntaxHighlighter: highlighter,
		themeManager:      NewThemeManager(o.plain),
		preferences: RenderingPreferences{
			MaxTableRows: 50,
			MaxCellWidth: 48,
			Indent:       "  ",
		},
	}
	if o.preferences != nil {
		r.preferences = *o.preferences
	}
	if theme != nil {
		r.themeManager.SetTheme(theme)
	}
	return r, nil
}

// SetTheme switches colors and the syntax style.
func (r *Renderer) SetTheme(theme *config.Theme) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.themeManager.SetTheme(theme)
	if theme != nil && theme.Syntax != "" {
		// Unknown style names keep the current style.
		_ = r.syntaxHighlighter.SetTheme(theme.Syntax)
	}
}

// RenderJSON pretty-prints and highlights a JSON document.
func (r *Renderer) RenderJSON(raw []byte) (string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", r.preferences.Indent); err != nil {
		return "", fmt.Errorf("failed to format JSON: %w", err)
	}
	highlighted, err := r.syntaxHighlighter.Highlight(buf.String(), "json")
	if err != nil {
		highlighted = buf.String()
	}
	// Lexers terminate the input with a newline.
	highlighted = strings.TrimRight(highlighted, "\n")
	if r.preferences.ShowLineNumbers {
		highlighted = addLineNumbers(highlighted)
	}
	return highlighted, nil
}

// RenderResponse renders the result of a response, or its error member.
func (r *Renderer) RenderResponse(resp *jsonrpc.Response) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("response cannot be nil")
	}
	if resp.IsError() {
		return r.renderRPCError(resp), nil
	}
	if len(resp.Result) == 0 {
		return r.themeManager.GetStatusStyle("info").Render("(no result)"), nil
	}
	return r.RenderJSON(resp.Result)
}

func (r *Renderer) renderRPCError(resp *jsonrpc.Response) string {
	line := fmt.Sprintf("✗ %d %s", resp.Error.Code, resp.Error.Message)
	return r.themeManager.GetErrorStyle().Render(line)
}

// RenderBulk renders the responses of a completed bulk call as a table.
func (r *Renderer) RenderBulk(result *protocol.BulkResponse) string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if result == nil {
		return ""
	}
	table := r.bulkTable(result.Responses, nil)
	summary := fmt.Sprintf("%d requests succeeded in %d chunk(s)", len(result.Responses), result.Chunks)
	return r.themeManager.GetStatusStyle("success").Render(summary) + "\n" + r.formatTable(table)
}

// RenderBulkError renders the partial outcome of a failed bulk call.
func (r *Renderer) RenderBulkError(bulkErr *protocol.BulkRequestError) string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if bulkErr == nil {
		return ""
	}
	summary := fmt.Sprintf("Chunk %d of %d failed: %d failed, %d succeeded; later chunks were not sent",
		bulkErr.ChunkIndex+1, bulkErr.ChunkCount, len(bulkErr.Failures), len(bulkErr.Successes))
	table := r.bulkTable(bulkErr.Successes, bulkErr.Failures)
	return r.themeManager.GetStatusStyle("error").Render(summary) + "\n" + r.formatTable(table)
}

func (r *Renderer) bulkTable(successes, failures []jsonrpc.Response) *TableContent {
	table := &TableContent{Headers: []string{"#", "ID", "Status", "Detail"}}
	add := func(resp jsonrpc.Response, status, detail string) {
		table.Rows = append(table.Rows, []string{fmt.Sprint(len(table.Rows) + 1), resp.ID, status, detail})
	}
	for _, resp := range successes {
		add(resp, "ok", compactJSON(resp.Result))
	}
	for _, resp := range failures {
		if resp.Error != nil {
			add(resp, "error", fmt.Sprintf("%d %s", resp.Error.Code, resp.Error.Message))
		} else {
			add(resp, "error", "no response")
		}
	}
	return table
}

// RenderError formats a contextual error as a bordered panel with suggestions.
func (r *Renderer) RenderError(ce *apperrors.ContextualError) (string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if ce == nil {
		return "", fmt.Errorf("error cannot be nil")
	}

	components := []string{
		r.themeManager.GetErrorStyle().Render(fmt.Sprintf("✗ Error: %s", ce.GetUserMessage())),
	}
	if ce.UserMessage != "" && ce.Message != ce.UserMessage {
		components = append(components, ce.Message)
	}

	info := r.themeManager.GetInfoStyle()
	if ce.Code != "" {
		components = append(components, info.Render(fmt.Sprintf("Code: %s", ce.Code)))
	}
	if ce.Operation != "" {
		components = append(components, info.Render(fmt.Sprintf("Operation: %s", ce.Operation)))
	}

	if suggestions := ce.GetSuggestions(); len(suggestions) > 0 {
		components = append(components, "", "Suggestions:")
		for _, s := range suggestions {
			components = append(components, "  • "+s)
		}
	}

	return r.themeManager.GetBorderStyle("error").Render(strings.Join(components, "\n")), nil
}

// TableContent is a simple header plus rows table.
type TableContent struct {
	Headers []string
	Rows    [][]string
}

// formatTable creates formatted table output
func (r *Renderer) formatTable(table *TableContent) string {
	if len(table.Headers) == 0 {
		return ""
	}

	widths := r.calculateColumnWidths(table)

	lines := []string{
		r.formatTableRow(table.Headers, widths, true),
		createTableSeparator(widths),
	}

	maxRows := r.preferences.MaxTableRows
	for i, row := range table.Rows {
		if maxRows > 0 && i >= maxRows {
			lines = append(lines, fmt.Sprintf("... and %d more rows", len(table.Rows)-maxRows))
			break
		}
		lines = append(lines, r.formatTableRow(row, widths, false))
	}

	return strings.Join(lines, "\n")
}

func (r *Renderer) calculateColumnWidths(table *TableContent) []int {
	widths := make([]int, len(table.Headers))
	for i, header := range table.Headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range table.Rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	for i := range widths {
		if r.preferences.MaxCellWidth > 0 && widths[i] > r.preferences.MaxCellWidth {
			widths[i] = r.preferences.MaxCellWidth
		}
	}
	return widths
}

func (r *Renderer) formatTableRow(cells []string, widths []int, isHeader bool) string {
	formatted := make([]string, len(widths))
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = truncate(cells[i], width)
		}
		cell += strings.Repeat(" ", width-lipgloss.Width(cell))
		if isHeader {
			cell = r.themeManager.GetTableHeaderStyle().Render(cell)
		}
		formatted[i] = cell
	}
	return "│ " + strings.Join(formatted, " │ ") + " │"
}

func createTableSeparator(widths []int) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat("─", width)
	}
	return "├─" + strings.Join(parts, "─┼─") + "─┤"
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func addLineNumbers(code string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		lines[i] = fmt.Sprintf("%3d │ ", i+1) + line
	}
	return strings.Join(lines, "\n")
}

// SyntaxHighlighter wraps a chroma formatter and style.
type SyntaxHighlighter struct {
	formatter chroma.Formatter
	style     *chroma.Style
	theme     string
}

// NewSyntaxHighlighter creates a highlighter. Unknown names fall back to the
// chroma fallback formatter and the GitHub style.
func NewSyntaxHighlighter(themeName, formatterName string) (*SyntaxHighlighter, error) {
	formatter := formatters.Get(formatterName)
	if formatter == nil {
		formatter = formatters.Fallback
	}
	style, ok := styles.Registry[themeName]
	if !ok {
		style = styles.GitHub
	}
	return &SyntaxHighlighter{formatter: formatter, style: style, theme: themeName}, nil
}

// Highlight applies syntax highlighting to code
func (sh *SyntaxHighlighter) Highlight(code, language string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var highlighted strings.Builder
	if err := sh.formatter.Format(&highlighted, sh.style, iterator); err != nil {
		return code, err
	}
	return highlighted.String(), nil
}

// SetTheme updates the syntax highlighting style
func (sh *SyntaxHighlighter) SetTheme(themeName string) error {
	style, ok := styles.Registry[themeName]
	if !ok {
		return fmt.Errorf("theme '%s' not found", themeName)
	}
	sh.style = style
	sh.theme = themeName
	return nil
}

// ThemeManager keeps the lipgloss styles derived from a theme.
type ThemeManager struct {
	currentTheme   *config.Theme
	lipglossStyles map[string]lipgloss.Style
	plain          bool
}

// NewThemeManager creates a theme manager with the default palette, or with
// uncolored styles when plain is set.
func NewThemeManager(plain bool) *ThemeManager {
	tm := &ThemeManager{plain: plain}
	tm.initializeDefaultStyles()
	return tm
}

// SetTheme updates the current theme and rebuilds styles
func (tm *ThemeManager) SetTheme(theme *config.Theme) {
	tm.currentTheme = theme
	tm.buildLipglossStyles()
}

// GetBorderStyle returns a border style for specific contexts
func (tm *ThemeManager) GetBorderStyle(context string) lipgloss.Style {
	if style, exists := tm.lipglossStyles["border_"+context]; exists {
		return style
	}
	return tm.lipglossStyles["border_default"]
}

// GetStatusStyle returns styling for status indicators
func (tm *ThemeManager) GetStatusStyle(status string) lipgloss.Style {
	if style, exists := tm.lipglossStyles["status_"+status]; exists {
		return style
	}
	return tm.lipglossStyles["status_default"]
}

func (tm *ThemeManager) GetErrorStyle() lipgloss.Style {
	return tm.lipglossStyles["error"]
}

func (tm *ThemeManager) GetInfoStyle() lipgloss.Style {
	return tm.lipglossStyles["info"]
}

func (tm *ThemeManager) GetTableHeaderStyle() lipgloss.Style {
	return tm.lipglossStyles["table_header"]
}

func (tm *ThemeManager) initializeDefaultStyles() {
	tm.lipglossStyles = map[string]lipgloss.Style{
		"border_default": lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		"border_error":   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		"status_default": lipgloss.NewStyle(),
		"status_success": lipgloss.NewStyle(),
		"status_error":   lipgloss.NewStyle(),
		"status_warning": lipgloss.NewStyle(),
		"status_info":    lipgloss.NewStyle(),
		"error":          lipgloss.NewStyle().Bold(true),
		"info":           lipgloss.NewStyle(),
		"table_header":   lipgloss.NewStyle().Bold(true),
	}
	if tm.plain {
		return
	}
	tm.applyPalette(&config.Theme{Success: "#28a745", Error: "#dc3545", Warning: "#ffc107", Info: "#17a2b8"})
}

func (tm *ThemeManager) buildLipglossStyles() {
	if tm.currentTheme == nil || tm.plain {
		return
	}
	tm.applyPalette(tm.currentTheme)
}

func (tm *ThemeManager) applyPalette(theme *config.Theme) {
	set := func(key, color string) {
		if color != "" {
			tm.lipglossStyles[key] = tm.lipglossStyles[key].Foreground(lipgloss.Color(color))
		}
	}
	set("status_success", theme.Success)
	set("status_error", theme.Error)
	set("status_warning", theme.Warning)
	set("status_info", theme.Info)
	set("error", theme.Error)
	set("info", theme.Info)
	if theme.Error != "" {
		tm.lipglossStyles["border_error"] = tm.lipglossStyles["border_error"].BorderForeground(lipgloss.Color(theme.Error))
	}
}
