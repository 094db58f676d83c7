package parsers

import (
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

const nmapReport = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -sV -oX - 10.0.0.5">
<host starttime="1756700000" endtime="1756700100">
<status state="up" reason="echo-reply"/>
<address addr="10.0.0.5" addrtype="ipv4"/>
<hostnames><hostname name="web01.internal" type="PTR"/></hostnames>
<ports>
<port protocol="tcp" portid="22"><state state="open" reason="syn-ack"/><service name="ssh" product="OpenSSH" version="9.6"/></port>
<port protocol="tcp" portid="443"><state state="open" reason="syn-ack"/><service name="https" product="nginx" version="1.25.4"/><script id="ssl-cert" output="Subject: CN=web01"/></port>
<port protocol="tcp" portid="8080"><state state="closed" reason="reset"/><service name="http-proxy"/></port>
</ports>
</host>
<host starttime="1756700000" endtime="1756700120">
<status state="up" reason="echo-reply"/>
<address addr="10.0.0.6" addrtype="ipv4"/>
<ports>
<port protocol="udp" portid="53"><state state="open" reason="udp-response"/><service name="domain"/></port>
</ports>
</host>
</nmaprun>`

func TestNmapParseFullReport(t *testing.T) {
	t.Parallel()

	out, err := NmapParser{}.Parse([]byte(nmapReport))
	require.NoError(t, err)
	require.Len(t, out, 3, "closed ports must be skipped")

	f := out[1]
	require.Equal(t, "nmap", f.Tool)
	require.Equal(t, "10.0.0.5", f.Host)
	require.NotNil(t, f.Port)
	require.Equal(t, 443, *f.Port)
	require.Equal(t, "tcp", f.Protocol)
	require.Equal(t, "Open port 443/tcp: https", f.Title)
	require.Equal(t, 0.0, f.Severity)
	require.Contains(t, f.Evidence, "nginx 1.25.4")
	require.Contains(t, f.Evidence, "ssl-cert: Subject: CN=web01")

	require.Equal(t, "10.0.0.6", out[2].Host)
	require.Equal(t, "udp", out[2].Protocol)
}

func TestNmapParseTruncatedHostKeepsCompleteOnes(t *testing.T) {
	t.Parallel()

	// cut the report mid-way through the second host element
	cut := []byte(nmapReport)[:1000]

	out, err := NmapParser{}.Parse(cut)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, domain.ToolNmap, perr.Tool)
	require.Len(t, out, 2, "findings from the first, complete host survive")
	require.Equal(t, "10.0.0.5", out[0].Host)
}

func TestNmapParseHostnameFallback(t *testing.T) {
	t.Parallel()

	report := `<nmaprun><host>
<address addr="aa:bb:cc:dd:ee:ff" addrtype="mac"/>
<hostnames><hostname name="printer.lan"/></hostnames>
<ports><port protocol="tcp" portid="631"><state state="open"/><service name="ipp"/></port></ports>
</host></nmaprun>`

	out, err := NmapParser{}.Parse([]byte(report))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "printer.lan", out[0].Host)
}

func TestNmapParseEmptyReport(t *testing.T) {
	t.Parallel()

	out, err := NmapParser{}.Parse([]byte(`<nmaprun></nmaprun>`))
	require.NoError(t, err)
	require.Empty(t, out)
}
