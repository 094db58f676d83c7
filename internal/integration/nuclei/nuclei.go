package nuclei

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

// Client drives the nuclei binary with JSON-lines export. Same local
// process model as the nmap client.
type Client struct {
	bin       string
	severity  string // filter passed to -severity
	rateLimit int

	mu    sync.Mutex
	procs map[string]*proc
}

type proc struct {
	cmd     *exec.Cmd
	outPath string
	done    chan struct{}
	waitErr error
}

func New(bin, severity string, rateLimit int) *Client {
	if bin == "" {
		bin = "nuclei"
	}
	if severity == "" {
		severity = "critical,high,medium,low,info"
	}
	if rateLimit <= 0 {
		rateLimit = 50
	}
	return &Client{bin: bin, severity: severity, rateLimit: rateLimit, procs: make(map[string]*proc)}
}

func (c *Client) Tool() domain.Tool { return domain.ToolNuclei }

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
		if strings.TrimSpace(t) == "" || strings.HasPrefix(t, "-") {
			return "", nil, fmt.Errorf("%w: %q", integration.ErrInvalidTarget, t)
		}
	}

	handle := uuid.NewString()
	outPath := filepath.Join(os.TempDir(), "nuclei-"+handle+".jsonl")

	args := []string{
		"-u", strings.Join(targets, ","),
		"-severity", c.severity,
		"-rl", fmt.Sprint(c.rateLimit),
		"-jsonl", "-o", outPath,
		"-silent", "-irr",
	}
	if tags, ok := params["tags"]; ok && tags != "" {
		args = append(args, "-tags", tags)
	}

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
		// nuclei exits non-zero when templates matched; only treat a
		// run with no output file at all as failed
		if p.waitErr != nil {
			if _, statErr := os.Stat(p.outPath); statErr != nil {
				return integration.JobStateFailed, nil
			}
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
		if os.IsNotExist(err) {
			// no findings at all; nuclei writes no file then
			c.release(handle)
			return []byte{}, nil
		}
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
