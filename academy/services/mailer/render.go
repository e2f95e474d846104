package mailer

import (
	"bytes"
	"fmt"
	htmltmpl "html/template"
	"regexp"
	texttmpl "text/template"
)

// Message is a rendered email ready for a Provider.
type Message struct {
	ToName    string
	ToAddress string
	Subject   string
	HTML      string
	Text      string
}

// TemplateData fills the {{name}} and {{course}} placeholders.
type TemplateData struct {
	Name   string
	Course string
}

var placeholderRe = regexp.MustCompile(`\{\{\s*(name|course)\s*\}\}`)

func toAction(src string) string {
	return placeholderRe.ReplaceAllStringFunc(src, func(m string) string {
		if placeholderRe.FindStringSubmatch(m)[1] == "name" {
			return "{{.Name}}"
		}
		return "{{.Course}}"
	})
}

// RenderSubject fills placeholders without HTML escaping.
func RenderSubject(subject string, data TemplateData) (string, error) {
	t, err := texttmpl.New("subject").Parse(toAction(subject))
	if err != nil {
		return "", fmt.Errorf("parse subject: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render subject: %w", err)
	}
	return buf.String(), nil
}

// RenderHTML fills placeholders with contextual escaping.
func RenderHTML(body string, data TemplateData) (string, error) {
	t, err := htmltmpl.New("body").Parse(toAction(body))
	if err != nil {
		return "", fmt.Errorf("parse body: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return buf.String(), nil
}
