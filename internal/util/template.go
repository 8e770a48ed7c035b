package util

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

var (
	templatesMu sync.RWMutex
	templates   = map[string]*template.Template{}
)

var promptFuncs = template.FuncMap{
	"default": func(def, val any) any {
		if val == nil || val == "" {
			return def
		}
		return val
	},
	"join": func(sep string, items []string) string { return strings.Join(items, sep) },
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	// pct renders a [0,1] trait as a whole percentage.
	"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	// clip keeps at most n runes of s.
	"clip": func(n int, s string) string {
		if r := []rune(s); len(r) > n {
			return string(r[:n]) + "..."
		}
		return s
	},
}

// RenderTemplate fills a prompt template with state. Text without template
// markers is returned unchanged; parsed templates are cached by their text.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := parsed(text)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, state); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func parsed(text string) (*template.Template, error) {
	templatesMu.RLock()
	tmpl, ok := templates[text]
	templatesMu.RUnlock()
	if ok {
		return tmpl, nil
	}
	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, err
	}
	templatesMu.Lock()
	templates[text] = tmpl
	templatesMu.Unlock()
	return tmpl, nil
}
