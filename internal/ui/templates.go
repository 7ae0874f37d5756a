// Package ui renders the browsable cache UI: package listing, single
// cache detail, ABI match/compare, and the download ledger. No templating
// library is grounded anywhere in the retrieval pack (see DESIGN.md), so
// this uses stdlib html/template deliberately.
package ui

import (
	"bytes"
	"embed"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"bytes": humanBytes,
}

var templates = template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))

// Mode selects how a page is rendered: wrapped in full page chrome, as a
// bare content fragment for an in-place swap, or as the next page of
// a paginated append.
type Mode string

const (
	ModeFull   Mode = "full"
	ModePlain  Mode = "plain"
	ModeAppend Mode = "append"
)

// Render writes the named template's output for data to w. When mode is
// ModeFull the rendered content is wrapped in the shared page chrome;
// otherwise the bare fragment is written directly.
func Render(w io.Writer, mode Mode, name string, data any) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	if mode != ModeFull {
		_, err := w.Write(buf.Bytes())
		return err
	}
	return templates.ExecuteTemplate(w, "layout.html", struct {
		Content template.HTML
	}{template.HTML(buf.String())})
}

func humanBytes(n int64) string {
	const unit = 1000
	if n < unit {
		return itoa(n) + "B"
	}
	div, exp := int64(unit), 0
	for nn := n / unit; nn >= unit; nn /= unit {
		div *= unit
		exp++
	}
	suffixes := []string{"kB", "MB", "GB", "TB", "PB"}
	return formatFloat(float64(n)/float64(div)) + suffixes[exp]
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func formatFloat(f float64) string {
	whole := int64(f)
	frac := int64((f - float64(whole)) * 10)
	if frac < 0 {
		frac = -frac
	}
	return itoa(whole) + "." + itoa(frac)
}
