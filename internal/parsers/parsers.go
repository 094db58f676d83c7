package parsers

import (
	"fmt"

	"github.com/ramjavii/nestsecure/internal/domain/findings"
	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
)

// ParseError describes the malformed region of a report. Parsers return it
// together with the findings recovered up to that point, so a truncated
// report never loses the part that did arrive.
type ParseError struct {
	Tool   domain.Tool
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s parse error: %s: %v", e.Tool, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s parse error: %s", e.Tool, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser converts a tool's raw report into the normalized finding model.
// Pure: no I/O, no shared state. May return both findings and an error on
// partial input.
type Parser interface {
	Tool() domain.Tool
	Parse(raw []byte) ([]findings.Finding, error)
}

// ForTool selects the parser matching a tool.
func ForTool(tool domain.Tool) (Parser, error) {
	switch tool {
	case domain.ToolNmap:
		return NmapParser{}, nil
	case domain.ToolGVM:
		return GVMParser{}, nil
	case domain.ToolZAP:
		return ZAPParser{}, nil
	case domain.ToolNuclei:
		return NucleiParser{}, nil
	default:
		return nil, fmt.Errorf("no parser for tool: %s", tool)
	}
}
