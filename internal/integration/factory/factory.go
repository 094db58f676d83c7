package factory

import (
	"fmt"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
	"github.com/ramjavii/nestsecure/internal/integration"
	"github.com/ramjavii/nestsecure/internal/integration/gvm"
	"github.com/ramjavii/nestsecure/internal/integration/nmap"
	"github.com/ramjavii/nestsecure/internal/integration/nuclei"
	"github.com/ramjavii/nestsecure/internal/integration/zap"
)

// Options carries the per-tool endpoint configuration.
type Options struct {
	NmapBin  string
	NmapArgs []string

	NucleiBin       string
	NucleiSeverity  string
	NucleiRateLimit int

	GVMEndpoint string
	GVMUsername string
	GVMPassword string
	GVMInsecure bool

	ZAPBaseURL string
	ZAPAPIKey  string
}

// New returns the concrete client for a tool. This is the single place
// that maps the tool enum onto an implementation.
func New(tool domain.Tool, o Options) (integration.Client, error) {
	switch tool {
	case domain.ToolNmap:
		return nmap.New(o.NmapBin, o.NmapArgs), nil
	case domain.ToolNuclei:
		return nuclei.New(o.NucleiBin, o.NucleiSeverity, o.NucleiRateLimit), nil
	case domain.ToolGVM:
		return gvm.New(o.GVMEndpoint, o.GVMUsername, o.GVMPassword, o.GVMInsecure), nil
	case domain.ToolZAP:
		return zap.New(o.ZAPBaseURL, o.ZAPAPIKey), nil
	default:
		return nil, fmt.Errorf("unsupported tool: %s", tool)
	}
}
