package gvm

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"net"
	"strings"
	"time"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
	"github.com/ramjavii/nestsecure/internal/integration"
)

// Scan config shipped with every GVM install ("Full and fast").
const defaultConfigID = "daba56c8-73ec-11df-a475-002264764cea"

// Meta keys persisted on the tool job so a restarted orchestrator can keep
// polling the same remote task.
const (
	MetaTargetID = "gvm_target_id"
	MetaTaskID   = "gvm_task_id"
	MetaReportID = "gvm_report_id"
)

// Client speaks GMP (command/response XML envelopes) to gvmd over TLS.
// Every command runs on a fresh authenticated session; the job handle is
// the gvmd task UUID, so no client-side state is needed across restarts.
type Client struct {
	endpoint string // host:port
	username string
	password string
	configID string
	tlsConf  *tls.Config
	timeout  time.Duration
}

func New(endpoint, username, password string, insecureSkipVerify bool) *Client {
	return &Client{
		endpoint: endpoint,
		username: username,
		password: password,
		configID: defaultConfigID,
		tlsConf:  &tls.Config{InsecureSkipVerify: insecureSkipVerify},
		timeout:  30 * time.Second,
	}
}

func (c *Client) Tool() domain.Tool { return domain.ToolGVM }

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) Capabilities() integration.Capabilities {
	return integration.Capabilities{RemoteCancel: true}
}

type envelope struct {
	Status     string `xml:"status,attr"`
	StatusText string `xml:"status_text,attr"`
	ID         string `xml:"id,attr"`
	ReportID   string `xml:"report_id"`
	Tasks      []struct {
		ID         string `xml:"id,attr"`
		StatusText string `xml:"status"`
		Progress   string `xml:"progress"`
		LastReport struct {
			Report struct {
				ID string `xml:"id,attr"`
			} `xml:"report"`
		} `xml:"last_report"`
	} `xml:"task"`
	ReportRaw []byte `xml:",innerxml"`
}

func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return c.authenticate(conn)
}

func (c *Client) Launch(ctx context.Context, targets []string, params map[string]string) (string, map[string]string, error) {
	if len(targets) == 0 {
		return "", nil, fmt.Errorf("%w: no targets", integration.ErrInvalidTarget)
	}
	hosts := strings.Join(targets, ",")
	name := fmt.Sprintf("nestsecure-%d", time.Now().UnixNano())

	targetResp, err := c.command(ctx, fmt.Sprintf(
		`<create_target><name>%s</name><hosts>%s</hosts></create_target>`,
		xmlEscape(name), xmlEscape(hosts)))
	if err != nil {
		return "", nil, err
	}
	if err := checkStatus(targetResp, integration.ErrInvalidTarget); err != nil {
		return "", nil, err
	}

	configID := c.configID
	if v, ok := params["config_id"]; ok && v != "" {
		configID = v
	}
	taskResp, err := c.command(ctx, fmt.Sprintf(
		`<create_task><name>%s</name><config id="%s"/><target id="%s"/></create_task>`,
		xmlEscape(name), configID, targetResp.ID))
	if err != nil {
		return "", nil, err
	}
	if err := checkStatus(taskResp, integration.ErrLaunch); err != nil {
		return "", nil, err
	}

	startResp, err := c.command(ctx, fmt.Sprintf(`<start_task task_id="%s"/>`, taskResp.ID))
	if err != nil {
		return "", nil, err
	}
	if err := checkStatus(startResp, integration.ErrLaunch); err != nil {
		return "", nil, err
	}

	meta := map[string]string{
		MetaTargetID: targetResp.ID,
		MetaTaskID:   taskResp.ID,
		MetaReportID: startResp.ReportID,
	}
	return taskResp.ID, meta, nil
}

func (c *Client) Poll(ctx context.Context, handle string) (integration.JobState, error) {
	resp, err := c.command(ctx, fmt.Sprintf(`<get_tasks task_id="%s"/>`, handle))
	if err != nil {
		return integration.JobStateFailed, err
	}
	if err := checkStatus(resp, integration.ErrUnknownHandle); err != nil {
		return integration.JobStateFailed, err
	}
	if len(resp.Tasks) == 0 {
		return integration.JobStateFailed, fmt.Errorf("%w: task %s", integration.ErrUnknownHandle, handle)
	}
	switch resp.Tasks[0].StatusText {
	case "Done":
		return integration.JobStateCompleted, nil
	case "Stopped", "Interrupted":
		return integration.JobStateFailed, nil
	default: // New, Requested, Queued, Running
		return integration.JobStateRunning, nil
	}
}

func (c *Client) FetchResults(ctx context.Context, handle string) ([]byte, error) {
	taskResp, err := c.command(ctx, fmt.Sprintf(`<get_tasks task_id="%s"/>`, handle))
	if err != nil {
		return nil, err
	}
	if len(taskResp.Tasks) == 0 {
		return nil, fmt.Errorf("%w: task %s", integration.ErrUnknownHandle, handle)
	}
	reportID := taskResp.Tasks[0].LastReport.Report.ID
	if reportID == "" {
		return nil, fmt.Errorf("%w: task %s has no report yet", integration.ErrResultsUnavailable, handle)
	}
	resp, err := c.command(ctx, fmt.Sprintf(
		`<get_reports report_id="%s" details="1" ignore_pagination="1"/>`, reportID))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, integration.ErrResultsUnavailable); err != nil {
		return nil, err
	}
	return resp.ReportRaw, nil
}

func (c *Client) Cancel(ctx context.Context, handle string) error {
	resp, err := c.command(ctx, fmt.Sprintf(`<stop_task task_id="%s"/>`, handle))
	if err != nil {
		return err
	}
	return checkStatus(resp, integration.ErrUnknownHandle)
}

// command opens an authenticated session, sends one GMP command and
// decodes the single response element.
func (c *Client) command(ctx context.Context, payload string) (*envelope, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := c.authenticate(conn); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		return nil, fmt.Errorf("%w: writing command: %v", integration.ErrConnection, err)
	}
	var resp envelope
	if err := xml.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", integration.ErrConnection, err)
	}
	return &resp, nil
}

func (c *Client) dial(ctx context.Context) (*tls.Conn, error) {
	d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: c.timeout}, Config: c.tlsConf}
	conn, err := d.DialContext(ctx, "tcp", c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", integration.ErrConnection, c.endpoint, err)
	}
	return conn.(*tls.Conn), nil
}

func (c *Client) authenticate(conn *tls.Conn) error {
	cmd := fmt.Sprintf(
		`<authenticate><credentials><username>%s</username><password>%s</password></credentials></authenticate>`,
		xmlEscape(c.username), xmlEscape(c.password))
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("%w: writing auth: %v", integration.ErrConnection, err)
	}
	var resp envelope
	if err := xml.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("%w: decoding auth response: %v", integration.ErrConnection, err)
	}
	if resp.Status != "200" {
		return fmt.Errorf("%w: gvmd said %s %s", integration.ErrAuth, resp.Status, resp.StatusText)
	}
	return nil
}

func checkStatus(resp *envelope, kind error) error {
	switch {
	case strings.HasPrefix(resp.Status, "2"):
		return nil
	case resp.Status == "401" || resp.Status == "403":
		return fmt.Errorf("%w: gvmd said %s %s", integration.ErrAuth, resp.Status, resp.StatusText)
	case resp.Status == "503":
		return fmt.Errorf("%w: gvmd said %s %s", integration.ErrToolBusy, resp.Status, resp.StatusText)
	default:
		return fmt.Errorf("%w: gvmd said %s %s", kind, resp.Status, resp.StatusText)
	}
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
