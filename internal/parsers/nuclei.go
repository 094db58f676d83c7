package parsers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ramjavii/nestsecure/internal/domain/findings"
	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

// NucleiParser reads nuclei's JSON-lines export. Parsing stops at the
// first malformed line (usually a truncated tail) and returns everything
// before it.
type NucleiParser struct{}

func (NucleiParser) Tool() domain.Tool { return domain.ToolNuclei }

type nucleiEvent struct {
	TemplateID string `json:"template-id"`
	Info       struct {
		Name           string `json:"name"`
		Severity       string `json:"severity"`
		Description    string `json:"description"`
		Classification struct {
			CVEID     any     `json:"cve-id"` // string or []string depending on template
			CVSSScore float64 `json:"cvss-score"`
		} `json:"classification"`
	} `json:"info"`
	Host      string `json:"host"`
	IP        string `json:"ip"`
	Port      string `json:"port"`
	Type      string `json:"type"`
	MatchedAt string `json:"matched-at"`
}

func (p NucleiParser) Parse(raw []byte) ([]findings.Finding, error) {
	var out []findings.Finding
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev nucleiEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return out, &ParseError{Tool: p.Tool(), Detail: fmt.Sprintf("malformed JSON on line %d", lineNo), Err: err}
		}
		if f, ok := p.eventFinding(ev); ok {
			out = append(out, f)
		}
	}
	if err := sc.Err(); err != nil {
		return out, &ParseError{Tool: p.Tool(), Detail: "reading report", Err: err}
	}
	return out, nil
}

func (p NucleiParser) eventFinding(ev nucleiEvent) (findings.Finding, bool) {
	if ev.TemplateID == "" {
		return findings.Finding{}, false
	}

	host := ev.IP
	var port *int
	if u, err := url.Parse(ev.Host); err == nil && u.Host != "" {
		if host == "" {
			host = u.Hostname()
		}
		pv := 80
		if u.Scheme == "https" {
			pv = 443
		}
		if ps := u.Port(); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil {
				pv = v
			}
		}
		port = &pv
	} else if host == "" {
		host = ev.Host
	}
	if v, err := strconv.Atoi(ev.Port); err == nil {
		port = &v
	}
	if host == "" {
		return findings.Finding{}, false
	}

	severity := findings.SeverityFromLabel(ev.Info.Severity)
	if ev.Info.Classification.CVSSScore > 0 {
		severity = findings.ClampSeverity(ev.Info.Classification.CVSSScore)
	}

	vulnID := firstCVEID(ev.Info.Classification.CVEID)
	if vulnID == "" {
		vulnID = ev.TemplateID
	}

	title := ev.Info.Name
	if title == "" {
		title = ev.TemplateID
	}

	return findings.Finding{
		Tool:       string(domain.ToolNuclei),
		Host:       host,
		Port:       port,
		Protocol:   ev.Type,
		VulnID:     vulnID,
		Title:      title,
		Severity:   severity,
		Evidence:   firstNonEmpty(ev.MatchedAt, ev.Info.Description),
		Confidence: findings.DefaultConfidence,
	}, true
}

// firstCVEID tolerates both encodings nuclei templates use for cve-id.
func firstCVEID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.ToUpper(strings.TrimSpace(t))
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				return strings.ToUpper(strings.TrimSpace(s))
			}
		}
	}
	return ""
}
