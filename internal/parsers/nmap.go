package parsers

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ramjavii/nestsecure/internal/domain/findings"
	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

// NmapParser reads nmap -oX reports. Hosts are decoded one element at a
// time so a report truncated mid-transfer still yields every host that
// arrived intact.
type NmapParser struct{}

func (NmapParser) Tool() domain.Tool { return domain.ToolNmap }

type nmapHost struct {
	Addresses []struct {
		Addr string `xml:"addr,attr"`
		Type string `xml:"addrtype,attr"`
	} `xml:"address"`
	Hostnames []struct {
		Name string `xml:"name,attr"`
	} `xml:"hostnames>hostname"`
	Ports []struct {
		Protocol string `xml:"protocol,attr"`
		PortID   int    `xml:"portid,attr"`
		State    struct {
			State string `xml:"state,attr"`
		} `xml:"state"`
		Service struct {
			Name    string `xml:"name,attr"`
			Product string `xml:"product,attr"`
			Version string `xml:"version,attr"`
		} `xml:"service"`
		Scripts []struct {
			ID     string `xml:"id,attr"`
			Output string `xml:"output,attr"`
		} `xml:"script"`
	} `xml:"ports>port"`
}

func (p NmapParser) Parse(raw []byte) ([]findings.Finding, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var out []findings.Finding
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, &ParseError{Tool: p.Tool(), Detail: "malformed XML after last complete host", Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "host" {
			continue
		}
		var h nmapHost
		if err := dec.DecodeElement(&h, &se); err != nil {
			return out, &ParseError{Tool: p.Tool(), Detail: "truncated host element", Err: err}
		}
		out = append(out, p.hostFindings(h)...)
	}
}

func (p NmapParser) hostFindings(h nmapHost) []findings.Finding {
	host := ""
	for _, a := range h.Addresses {
		if a.Type == "ipv4" || a.Type == "ipv6" {
			host = a.Addr
			break
		}
	}
	if host == "" && len(h.Hostnames) > 0 {
		host = h.Hostnames[0].Name
	}
	if host == "" {
		return nil
	}

	var out []findings.Finding
	for _, port := range h.Ports {
		if port.State.State != "open" {
			continue
		}
		svc := port.Service.Name
		if svc == "" {
			svc = "unknown"
		}
		title := fmt.Sprintf("Open port %d/%s: %s", port.PortID, port.Protocol, svc)
		var evidence []string
		if port.Service.Product != "" {
			evidence = append(evidence, strings.TrimSpace(port.Service.Product+" "+port.Service.Version))
		}
		for _, s := range port.Scripts {
			evidence = append(evidence, s.ID+": "+s.Output)
		}
		portID := port.PortID
		out = append(out, findings.Finding{
			Tool:       string(domain.ToolNmap),
			Host:       host,
			Port:       &portID,
			Protocol:   port.Protocol,
			Title:      title,
			Severity:   findings.SeverityFromLabel("info"),
			Evidence:   strings.Join(evidence, "\n"),
			Confidence: findings.DefaultConfidence,
		})
	}
	return out
}
