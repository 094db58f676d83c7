package parsers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

const zapReport = `{"@version":"2.14.0","alerts":[
{"alert":"SQL Injection","risk":"High (Medium)","confidence":"Medium","url":"https://web01.internal/login","pluginId":"40018","evidence":"' OR 1=1--","description":"SQL injection may be possible."},
{"name":"X-Frame-Options Header Not Set","risk":"Low","confidence":"High","url":"http://web01.internal:8080/","pluginId":"10020","description":"Missing anti-clickjacking header."}
]}`

func TestZAPParseFullReport(t *testing.T) {
	t.Parallel()

	out, err := ZAPParser{}.Parse([]byte(zapReport))
	require.NoError(t, err)
	require.Len(t, out, 2)

	f := out[0]
	require.Equal(t, "zap", f.Tool)
	require.Equal(t, "web01.internal", f.Host)
	require.NotNil(t, f.Port)
	require.Equal(t, 443, *f.Port, "https without an explicit port defaults to 443")
	require.Equal(t, "zap-40018", f.VulnID)
	require.Equal(t, "SQL Injection", f.Title)
	require.Equal(t, 7.0, f.Severity, "the parenthesized confidence must not leak into the risk label")
	require.Equal(t, 0.7, f.Confidence)
	require.Equal(t, "' OR 1=1--", f.Evidence)

	g := out[1]
	require.Equal(t, "X-Frame-Options Header Not Set", g.Title, "name is the fallback when alert is absent")
	require.Equal(t, 8080, *g.Port)
	require.Equal(t, 2.0, g.Severity)
	require.Equal(t, 0.9, g.Confidence)
	require.Equal(t, "Missing anti-clickjacking header.", g.Evidence)
}

func TestZAPParseTruncatedAlertKeepsCompleteOnes(t *testing.T) {
	t.Parallel()

	cut := zapReport[:strings.Index(zapReport, `"pluginId":"10020"`)]

	out, err := ZAPParser{}.Parse([]byte(cut))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, domain.ToolZAP, perr.Tool)
	require.Len(t, out, 1, "the first, complete alert survives")
	require.Equal(t, "zap-40018", out[0].VulnID)
}

func TestZAPParseNotAnObject(t *testing.T) {
	t.Parallel()

	out, err := ZAPParser{}.Parse([]byte(`[1,2,3]`))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Empty(t, out)
}

func TestZAPParseSkipsAlertWithoutURL(t *testing.T) {
	t.Parallel()

	out, err := ZAPParser{}.Parse([]byte(`{"alerts":[{"alert":"orphan","risk":"High"}]}`))
	require.NoError(t, err)
	require.Empty(t, out)
}
