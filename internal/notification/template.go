package notification

import (
	"strings"
	"text/template"

	"github.com/k3a/html2text"

	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/detection"
)

// templateContext is the only data surface exposed to rule templates. Its
// fields are the whitelist: nothing else on Detection is reachable from a
// title/body template, however the rule itself is configured.
type templateContext struct {
	CommonName     string
	ScientificName string
	Confidence     float64
	ConfidencePct  float64
	Timestamp      string
	Latitude       float64
	Longitude      float64
}

func newTemplateContext(d detection.Detection) templateContext {
	ctx := templateContext{
		CommonName:     d.CommonName,
		ScientificName: d.ScientificName,
		Confidence:     d.Confidence,
		ConfidencePct:  d.Confidence * 100,
		Timestamp:      d.Timestamp.Format("2006-01-02 15:04:05 MST"),
	}
	if d.Latitude != nil {
		ctx.Latitude = *d.Latitude
	}
	if d.Longitude != nil {
		ctx.Longitude = *d.Longitude
	}
	return ctx
}

// render produces the title/body pair for rule against d, falling back to
// the notification defaults when the rule doesn't override them.
func render(rule conf.RuleSettings, d detection.Detection) (title, body string, err error) {
	ctx := newTemplateContext(d)

	titleTmpl := rule.TitleTemplate
	if titleTmpl == "" {
		titleTmpl = "New detection: {{.CommonName}}"
	}
	bodyTmpl := rule.BodyTemplate
	if bodyTmpl == "" {
		bodyTmpl = "{{.CommonName}} ({{.ScientificName}}) detected at {{.ConfidencePct}}% confidence on {{.Timestamp}}"
	}
	// Operators sometimes paste body templates copied from a webpage; strip
	// any HTML markup before it reaches plain-text adapters (webhook,
	// apprise, MQTT) so a stray <div> doesn't show up in a push notification.
	bodyTmpl = html2text.HTML2Text(bodyTmpl)

	title, err = executeTemplate("title", titleTmpl, ctx)
	if err != nil {
		return "", "", err
	}
	body, err = executeTemplate("body", bodyTmpl, ctx)
	if err != nil {
		return "", "", err
	}
	return title, body, nil
}

func executeTemplate(name, text string, ctx templateContext) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, ctx); err != nil {
		return "", err
	}
	return out.String(), nil
}
