package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Subject string           `json:"subject"`
	Body    string           `json:"body"`
	Type    NotificationType `json:"type"`
}

// render substitutes {{key}} placeholders in the subject and body.
// Placeholders without a matching key are left untouched.
func (t Template) render(data map[string]string) (subject, body string) {
	subject, body = t.Subject, t.Body
	for k, v := range data {
		ph := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, ph, v)
		body = strings.ReplaceAll(body, ph, v)
	}
	return subject, body
}

// Visit lifecycle templates registered on every new engine.
var builtInTemplates = []Template{
	{
		ID:      "visit-opened",
		Name:    "Visit Opened",
		Subject: "Visit {{visit_number}} opened for {{patient_name}}",
		Body:    "Dear {{patient_name}}, your visit {{visit_number}} was opened on {{date}}. Please proceed to the assigned departments.",
		Type:    TypeEmail,
	},
	{
		ID:      "lab-complete",
		Name:    "Lab Work Complete",
		Subject: "Lab work complete for visit {{visit_number}}",
		Body:    "Dear {{patient_name}}, all lab work for visit {{visit_number}} has been completed. Results are available to your physician.",
		Type:    TypeEmail,
	},
	{
		ID:      "pharmacy-complete",
		Name:    "Pharmacy Dispensing Complete",
		Subject: "Your medications are ready",
		Body:    "Dear {{patient_name}}, all medications for visit {{visit_number}} have been dispensed and are ready for pickup.",
		Type:    TypeEmail,
	},
	{
		ID:      "visit-completed",
		Name:    "Visit Completed",
		Subject: "Visit {{visit_number}} completed",
		Body:    "Dear {{patient_name}}, your visit {{visit_number}} has been completed. Thank you for visiting us.",
		Type:    TypeEmail,
	},
	{
		ID:      "visit-closed",
		Name:    "Visit Closed",
		Subject: "Visit {{visit_number}} closed",
		Body:    "Dear {{patient_name}}, your visit {{visit_number}} was closed by front desk staff. Contact the front desk if you believe this was in error.",
		Type:    TypeEmail,
	},
}

// TemplateEngine holds the registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates an engine seeded with the visit lifecycle
// templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range builtInTemplates {
		e.templates[t.ID] = t
	}
	return e
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Lookup returns the template registered under id.
func (e *TemplateEngine) Lookup(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// Render looks up a template by ID and substitutes data into its
// subject and body.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	t, ok := e.Lookup(templateID)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}
	subject, body = t.render(data)
	return subject, body, nil
}
