package parsers

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/ramjavii/nestsecure/internal/domain/findings"
	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

// GVMParser reads the report XML fetched via GMP get_reports. Only
// <result> elements matter; everything else in the (deeply nested) report
// envelope is skipped. Results are decoded one at a time for truncation
// tolerance.
type GVMParser struct{}

func (GVMParser) Tool() domain.Tool { return domain.ToolGVM }

type gvmResult struct {
	Name        string `xml:"name"`
	Host        string `xml:"host"`
	Port        string `xml:"port"` // "443/tcp" or "general/tcp"
	Severity    string `xml:"severity"`
	Description string `xml:"description"`
	Threat      string `xml:"threat"`
	NVT         struct {
		OID  string `xml:"oid,attr"`
		CVE  string `xml:"cve"`
		Refs []struct {
			Type string `xml:"type,attr"`
			ID   string `xml:"id,attr"`
		} `xml:"refs>ref"`
	} `xml:"nvt"`
	QOD struct {
		Value string `xml:"value"`
	} `xml:"qod"`
}

func (p GVMParser) Parse(raw []byte) ([]findings.Finding, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var out []findings.Finding
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, &ParseError{Tool: p.Tool(), Detail: "malformed XML after last complete result", Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "result" {
			continue
		}
		var r gvmResult
		if err := dec.DecodeElement(&r, &se); err != nil {
			return out, &ParseError{Tool: p.Tool(), Detail: "truncated result element", Err: err}
		}
		if f, ok := p.resultFinding(r); ok {
			out = append(out, f)
		}
	}
}

func (p GVMParser) resultFinding(r gvmResult) (findings.Finding, bool) {
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return findings.Finding{}, false
	}

	var port *int
	protocol := ""
	if num, proto, ok := strings.Cut(r.Port, "/"); ok {
		protocol = proto
		if v, err := strconv.Atoi(num); err == nil {
			port = &v
		}
	}

	vulnID := firstCVE(r)
	if vulnID == "" {
		vulnID = r.NVT.OID
	}

	confidence := findings.DefaultConfidence
	if qod, err := strconv.ParseFloat(r.QOD.Value, 64); err == nil && qod > 0 {
		confidence = qod / 100
	}

	return findings.Finding{
		Tool:       string(domain.ToolGVM),
		Host:       host,
		Port:       port,
		Protocol:   protocol,
		VulnID:     vulnID,
		Title:      strings.TrimSpace(r.Name),
		Severity:   findings.SeverityFromScore(r.Severity),
		Evidence:   strings.TrimSpace(r.Description),
		Confidence: confidence,
	}, true
}

func firstCVE(r gvmResult) string {
	for _, ref := range r.NVT.Refs {
		if strings.EqualFold(ref.Type, "cve") {
			return ref.ID
		}
	}
	if cve := strings.TrimSpace(r.NVT.CVE); cve != "" && !strings.EqualFold(cve, "NOCVE") {
		return cve
	}
	return ""
}
