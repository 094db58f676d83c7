package nmap

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
	"github.com/ramjavii/nestsecure/internal/integration"
)

// Client drives the nmap binary: one local process per launch, XML report
// written to a temp file and read back on FetchResults.
type Client struct {
	bin       string
	extraArgs []string

	mu    sync.Mutex
	procs map[string]*proc
}

type proc struct {
	cmd     *exec.Cmd
	outPath string
	done    chan struct{}
	waitErr error
}

func New(bin string, extraArgs []string) *Client {
	if bin == "" {
		bin = "nmap"
	}
	return &Client{bin: bin, extraArgs: extraArgs, procs: make(map[string]*proc)}
}

func (c *Client) Tool() domain.Tool { return domain.ToolNmap }

func (c *Client) Endpoint() string { return "local:" + c.bin }

func (c *Client) Capabilities() integration.Capabilities {
	return integration.Capabilities{RemoteCancel: false}
}

func (c *Client) Connect(ctx context.Context) error {
	if _, err := exec.LookPath(c.bin); err != nil {
		return fmt.Errorf("%w: %s not found in PATH: %v", integration.ErrConnection, c.bin, err)
	}
	return nil
}

func (c *Client) Launch(ctx context.Context, targets []string, params map[string]string) (string, map[string]string, error) {
	if len(targets) == 0 {
		return "", nil, fmt.Errorf("%w: no targets", integration.ErrInvalidTarget)
	}
	for _, t := range targets {
		if strings.TrimSpace(t) == "" || strings.HasPrefix(t, "-") || strings.ContainsAny(t, " \t") {
			return "", nil, fmt.Errorf("%w: %q", integration.ErrInvalidTarget, t)
		}
	}

	handle := uuid.NewString()
	outPath := filepath.Join(os.TempDir(), "nmap-"+handle+".xml")

	args := []string{"-sV", "-oX", outPath}
	if ports, ok := params["ports"]; ok && ports != "" {
		args = append(args, "-p", ports)
	} else {
		args = append(args, "-F")
	}
	args = append(args, c.extraArgs...)
	args = append(args, targets...)

	// deliberately not CommandContext: the process outlives the Launch
	// call and is torn down via Cancel
	cmd := exec.Command(c.bin, args...)
	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("%w: starting %s: %v", integration.ErrLaunch, c.bin, err)
	}

	p := &proc{cmd: cmd, outPath: outPath, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	c.mu.Lock()
	c.procs[handle] = p
	c.mu.Unlock()
	return handle, nil, nil
}

func (c *Client) Poll(ctx context.Context, handle string) (integration.JobState, error) {
	p, err := c.proc(handle)
	if err != nil {
		return integration.JobStateFailed, err
	}
	select {
	case <-p.done:
		if p.waitErr != nil {
			return integration.JobStateFailed, nil
		}
		return integration.JobStateCompleted, nil
	default:
		return integration.JobStateRunning, nil
	}
}

func (c *Client) FetchResults(ctx context.Context, handle string) ([]byte, error) {
	p, err := c.proc(handle)
	if err != nil {
		return nil, err
	}
	select {
	case <-p.done:
	default:
		return nil, fmt.Errorf("%w: scan still running", integration.ErrResultsUnavailable)
	}
	raw, err := os.ReadFile(p.outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading report: %v", integration.ErrResultsUnavailable, err)
	}
	c.release(handle)
	return raw, nil
}

func (c *Client) Cancel(ctx context.Context, handle string) error {
	p, err := c.proc(handle)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

func (c *Client) proc(handle string) (*proc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.procs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrUnknownHandle, handle)
	}
	return p, nil
}

func (c *Client) release(handle string) {
	c.mu.Lock()
	p := c.procs[handle]
	delete(c.procs, handle)
	c.mu.Unlock()
	if p != nil {
		_ = os.Remove(p.outPath)
	}
}
