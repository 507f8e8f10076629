package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"
)

// OverrideDir is checked for <name>.tmpl files before the built-in templates
var OverrideDir = "templates/prompt"

var (
	parsedMu sync.Mutex
	parsed   = map[string]*template.Template{}
)

// render executes the named template. A file in OverrideDir wins over the
// built-in text so prompts can be tuned without a rebuild.
func render(name string, data any) string {
	if out, ok := renderTemplateFile(filepath.Join(OverrideDir, name+".tmpl"), data); ok {
		return out
	}
	return renderTemplateString(name, builtin[name], data)
}

func renderTemplateFile(path string, data any) (string, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	t, err := template.New(filepath.Base(path)).Parse(string(b))
	if err != nil {
		zap.L().Warn("prompt override does not parse, using built-in", zap.String("path", path), zap.Error(err))
		return "", false
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		zap.L().Warn("prompt override failed to render", zap.String("path", path), zap.Error(err))
		return "", false
	}
	return strings.TrimSpace(sb.String()), true
}

func renderTemplateString(name, tmpl string, data any) string {
	parsedMu.Lock()
	t, ok := parsed[name]
	if !ok {
		t = template.Must(template.New(name).Parse(tmpl))
		parsed[name] = t
	}
	parsedMu.Unlock()

	var sb strings.Builder
	_ = t.Execute(&sb, data)
	return strings.TrimSpace(sb.String())
}
