// internal/service/template_service.go
package service

import (
	"bytes"
	"errors"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
)

// RenderTemplate replaces {key} placeholders with values from data
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// Renderer builds the outbound message for one recipient
type Renderer interface {
	Render(rc model.Recipient, weekStart time.Time) (model.OutboundMessage, error)
}

const (
	defaultSubject  = "Your meal plan for the week of {week}"
	defaultTextBody = "Hi {name},\n\nHere is your meal plan for the week of {week}.\n\n{plan}\n"
	defaultHTMLBody = `<h1>Your meal plan for the week of {{.Week}}</h1>
<p>Hi {{.Name}},</p>
<ul>{{range .Items}}
<li><strong>{{.Label}}</strong>: {{.Value}}</li>{{end}}
</ul>`
)

type planItem struct {
	Label string
	Value string
}

type PlanRenderer struct {
	Subject  string
	TextBody string
	html     *template.Template
}

func NewPlanRenderer() *PlanRenderer {
	return &PlanRenderer{
		Subject:  defaultSubject,
		TextBody: defaultTextBody,
		html:     template.Must(template.New("plan").Parse(defaultHTMLBody)),
	}
}

func (p *PlanRenderer) Render(rc model.Recipient, weekStart time.Time) (model.OutboundMessage, error) {
	if strings.TrimSpace(rc.Email) == "" {
		return model.OutboundMessage{}, errors.New("recipient has no email address")
	}
	if len(rc.Payload) == 0 {
		return model.OutboundMessage{}, errors.New("recipient has no plan for this week")
	}

	name := rc.Name
	if name == "" {
		name = "there"
	}
	week := weekStart.Format(model.WeekLayout)
	items := planItems(rc.Payload)

	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, it.Label+": "+it.Value)
	}
	data := map[string]string{
		"name": name,
		"week": week,
		"plan": strings.Join(lines, "\n"),
	}

	var html bytes.Buffer
	if err := p.html.Execute(&html, struct {
		Name  string
		Week  string
		Items []planItem
	}{name, week, items}); err != nil {
		return model.OutboundMessage{}, err
	}

	return model.OutboundMessage{
		RecipientID: rc.ID,
		To:          rc.Email,
		Subject:     RenderTemplate(p.Subject, data),
		HTMLBody:    html.String(),
		TextBody:    RenderTemplate(p.TextBody, data),
	}, nil
}

// planItems orders plan entries by key so renders are deterministic
func planItems(payload map[string]string) []planItem {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]planItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, planItem{Label: k, Value: payload[k]})
	}
	return items
}
