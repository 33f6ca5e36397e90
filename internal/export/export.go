// Package export writes a standalone HTML report of one assistant answer.
package export

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/aero-chat/internal/markdown"
	"github.com/google/uuid"
)

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Chat report {{.MessageID}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:46rem;margin:2rem auto;line-height:1.5}
header{border-bottom:1px solid #ccc;margin-bottom:1rem;color:#555;font-size:.9rem}
code{background:#f3f3f3;padding:0 .2rem}
</style>
</head>
<body>
<header>Session {{.SessionID}} · Message {{.MessageID}} · {{.Generated.Format "2006-01-02 15:04 MST"}}</header>
<main>
{{.Body}}
</main>
</body>
</html>
`))

// Exporter renders answers to files under Dir.
type Exporter struct {
	Dir      string
	renderer *markdown.Renderer
	now      func() time.Time
}

// New creates an exporter writing to dir.
func New(dir string) *Exporter {
	return &Exporter{Dir: dir, renderer: markdown.NewRenderer(), now: time.Now}
}

// Export renders content and returns the written file's base name.
func (e *Exporter) Export(sessionID, messageID, content string) (string, error) {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	var buf bytes.Buffer
	err := reportTemplate.Execute(&buf, struct {
		SessionID string
		MessageID string
		Generated time.Time
		// Body is sanitized by the markdown renderer.
		Body template.HTML
	}{
		SessionID: sessionID,
		MessageID: messageID,
		Generated: e.now().UTC(),
		Body:      template.HTML(e.renderer.Render(content)), //nolint:gosec // sanitized by bluemonday
	})
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	name := "report_" + uuid.NewString() + ".html"
	if err := os.WriteFile(filepath.Join(e.Dir, name), buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return name, nil
}
