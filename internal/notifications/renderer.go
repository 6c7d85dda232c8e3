package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/incident-pager/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Message is a rendered notification. Email uses both parts, SMS the
// subject and chat the body.
type Message struct {
	Subject string
	Body    string
}

// Text returns the message as it should appear on sink.
func (m Message) Text(sink Sink) string {
	if sink == SinkSMS {
		return m.Subject
	}
	return m.Body
}

// Renderer renders incident events from templates.
type Renderer struct {
	templates map[domain.EventType]*template.Template
}

// renderedEventTypes have a template each.
var renderedEventTypes = []domain.EventType{
	domain.EventTypeCreated,
	domain.EventTypeAcknowledged,
	domain.EventTypeResolved,
	domain.EventTypeEscalated,
	domain.EventTypeClosed,
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":          titleCase,
		"deref":          derefStatus,
		"formatTime":     formatTime,
		"formatDuration": formatDuration,
	}

	r := &Renderer{templates: make(map[domain.EventType]*template.Template)}

	for _, eventType := range renderedEventTypes {
		name := strings.ToLower(string(eventType))
		filename := fmt.Sprintf("templates/%s.tmpl", name)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		for _, part := range []string{"subject", "body"} {
			if tmpl.Lookup(part) == nil {
				return nil, fmt.Errorf("template %s: missing %q block", name, part)
			}
		}

		r.templates[eventType] = tmpl
	}

	return r, nil
}

type view struct {
	domain.IncidentEvent
	SeverityInfo domain.SeverityInfo
}

// Render renders event into a message.
func (r *Renderer) Render(event domain.IncidentEvent) (Message, error) {
	tmpl, ok := r.templates[event.EventType]
	if !ok {
		return Message{}, fmt.Errorf("template not found: %s", event.EventType)
	}

	data := view{IncidentEvent: event, SeverityInfo: event.Severity.Info()}

	subject, err := execute(tmpl, "subject", data)
	if err != nil {
		return Message{}, err
	}
	body, err := execute(tmpl, "body", data)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: subject, Body: body}, nil
}

func execute(tmpl *template.Template, part string, data view) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, part, data); err != nil {
		return "", fmt.Errorf("execute template %s/%s: %w", tmpl.Name(), part, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(v any) string {
	return titleCaser.String(strings.ToLower(fmt.Sprint(v)))
}

func derefStatus(s *domain.IncidentStatus) string {
	if s == nil {
		return ""
	}
	return string(*s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}
