package parsers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

const gvmReport = `<get_reports_response status="200" status_text="OK">
<report id="a1b2"><report>
<results start="1" max="100">
<result id="r1">
<name>OpenSSL: vulnerable version detected</name>
<host>10.0.0.5</host>
<port>443/tcp</port>
<severity>7.5</severity>
<threat>High</threat>
<description>The remote host runs OpenSSL 1.1.1k.</description>
<qod><value>80</value></qod>
<nvt oid="1.3.6.1.4.1.25623.1.0.117615">
<cve>NOCVE</cve>
<refs><ref type="cve" id="CVE-2023-0464"/><ref type="url" id="https://example.test"/></refs>
</nvt>
</result>
<result id="r2">
<name>ICMP Timestamp Reply</name>
<host>10.0.0.5</host>
<port>general/icmp</port>
<severity>2.1</severity>
<threat>Low</threat>
<description></description>
<qod><value>0</value></qod>
<nvt oid="1.3.6.1.4.1.25623.1.0.103190"><cve>NOCVE</cve></nvt>
</result>
</results>
</report></report>
</get_reports_response>`

func TestGVMParseFullReport(t *testing.T) {
	t.Parallel()

	out, err := GVMParser{}.Parse([]byte(gvmReport))
	require.NoError(t, err)
	require.Len(t, out, 2)

	f := out[0]
	require.Equal(t, "gvm", f.Tool)
	require.Equal(t, "10.0.0.5", f.Host)
	require.NotNil(t, f.Port)
	require.Equal(t, 443, *f.Port)
	require.Equal(t, "tcp", f.Protocol)
	require.Equal(t, "CVE-2023-0464", f.VulnID, "the cve ref wins over the oid")
	require.Equal(t, "OpenSSL: vulnerable version detected", f.Title)
	require.Equal(t, 7.5, f.Severity)
	require.Equal(t, 0.8, f.Confidence, "qod 80 maps to 0.8")

	g := out[1]
	require.Nil(t, g.Port, "general/icmp carries no numeric port")
	require.Equal(t, "icmp", g.Protocol)
	require.Equal(t, "1.3.6.1.4.1.25623.1.0.103190", g.VulnID, "NOCVE falls back to the nvt oid")
	require.Equal(t, 2.1, g.Severity)
}

func TestGVMParseTruncatedResultKeepsCompleteOnes(t *testing.T) {
	t.Parallel()

	cut := gvmReport[:strings.Index(gvmReport, "ICMP Timestamp")]

	out, err := GVMParser{}.Parse([]byte(cut))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, domain.ToolGVM, perr.Tool)
	require.Len(t, out, 1, "the first, complete result survives")
	require.Equal(t, "CVE-2023-0464", out[0].VulnID)
}

func TestGVMParseSkipsResultWithoutHost(t *testing.T) {
	t.Parallel()

	report := `<results><result><name>orphan</name><host></host><severity>5</severity></result></results>`
	out, err := GVMParser{}.Parse([]byte(report))
	require.NoError(t, err)
	require.Empty(t, out)
}
