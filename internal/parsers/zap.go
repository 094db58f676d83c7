package parsers

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/ramjavii/nestsecure/internal/domain/findings"
	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

// ZAPParser reads the merged alerts payload ({"alerts":[...]}) collected
// from the ZAP REST API. The alerts array is decoded element by element so
// a connection that died mid-body still yields the alerts received.
type ZAPParser struct{}

func (ZAPParser) Tool() domain.Tool { return domain.ToolZAP }

type zapAlert struct {
	Alert       string `json:"alert"`
	Name        string `json:"name"`
	Risk        string `json:"risk"` // "High (Medium)" or plain "High"
	Confidence  string `json:"confidence"`
	URL         string `json:"url"`
	CWEID       string `json:"cweid"`
	PluginID    string `json:"pluginId"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
}

func (p ZAPParser) Parse(raw []byte) ([]findings.Finding, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var out []findings.Finding

	// walk {"alerts": [ ... ]} by hand; a plain Unmarshal would drop
	// everything on truncated input
	if err := expectDelim(dec, '{'); err != nil {
		return out, &ParseError{Tool: p.Tool(), Detail: "not a JSON object", Err: err}
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return out, &ParseError{Tool: p.Tool(), Detail: "truncated payload", Err: err}
		}
		key, _ := keyTok.(string)
		if key != "alerts" {
			// skip the value of any other key
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return out, &ParseError{Tool: p.Tool(), Detail: "truncated payload", Err: err}
			}
			continue
		}
		if err := expectDelim(dec, '['); err != nil {
			return out, &ParseError{Tool: p.Tool(), Detail: "alerts is not an array", Err: err}
		}
		for dec.More() {
			var a zapAlert
			if err := dec.Decode(&a); err != nil {
				return out, &ParseError{Tool: p.Tool(), Detail: "truncated alert element", Err: err}
			}
			if f, ok := p.alertFinding(a); ok {
				out = append(out, f)
			}
		}
		if _, err := dec.Token(); err != nil { // closing ]
			return out, nil
		}
	}
	return out, nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || rune(d) != want {
		return &json.SyntaxError{}
	}
	return nil
}

func (p ZAPParser) alertFinding(a zapAlert) (findings.Finding, bool) {
	title := a.Alert
	if title == "" {
		title = a.Name
	}
	if title == "" || a.URL == "" {
		return findings.Finding{}, false
	}

	u, err := url.Parse(a.URL)
	if err != nil || u.Host == "" {
		return findings.Finding{}, false
	}
	host := u.Hostname()
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if ps := u.Port(); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil {
			port = v
		}
	}

	vulnID := ""
	if a.PluginID != "" {
		vulnID = "zap-" + a.PluginID
	}

	// risk can carry the confidence in parens: "High (Medium)"
	risk := a.Risk
	if i := strings.IndexByte(risk, '('); i > 0 {
		risk = strings.TrimSpace(risk[:i])
	}

	return findings.Finding{
		Tool:       string(domain.ToolZAP),
		Host:       host,
		Port:       &port,
		Protocol:   "tcp",
		VulnID:     vulnID,
		Title:      title,
		Severity:   findings.SeverityFromLabel(risk),
		Evidence:   firstNonEmpty(a.Evidence, a.Description),
		Confidence: zapConfidence(a.Confidence),
	}, true
}

func zapConfidence(c string) float64 {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "high", "confirmed":
		return 0.9
	case "medium":
		return 0.7
	case "low":
		return 0.5
	default:
		return findings.DefaultConfidence
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
