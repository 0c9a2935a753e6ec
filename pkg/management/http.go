package management

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/metrics"
	"github.com/cuemby/jenkins-relay/pkg/types"
)

const (
	// DefaultPort is the coordinator HTTP port
	DefaultPort = 8080

	// DefaultTimeout bounds every API call
	DefaultTimeout = 30 * time.Second

	nodeType = "hudson.slaves.DumbSlave$DescriptorImpl"
)

// BaseURL returns the coordinator endpoint for an address
func BaseURL(address string) string {
	return fmt.Sprintf("http://%s/", net.JoinHostPort(address, strconv.Itoa(DefaultPort)))
}

// NodeSpec is the node as sent to the coordinator
type NodeSpec struct {
	Name        string
	Executors   int // already scaled
	Labels      string
	RemoteFS    string
	Description string
}

// API is the raw node API of the coordinator. Credentials are passed on
// every call and never kept by the implementation.
type API interface {
	NodeExists(ctx context.Context, creds types.Credentials, name string) (bool, error)
	CreateNode(ctx context.Context, creds types.Credentials, spec NodeSpec) error
	DeleteNode(ctx context.Context, creds types.Credentials, name string) error
}

// HTTPAPI talks to the coordinator's remote access API
type HTTPAPI struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewHTTPAPI creates an API client for baseURL. A zero timeout means
// DefaultTimeout.
func NewHTTPAPI(baseURL string, timeout time.Duration) (*HTTPAPI, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinator url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid coordinator url %q", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPAPI{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: timeout,
			// doCreateItem answers with a redirect on success
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (a *HTTPAPI) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return a.baseURL.String() + strings.Join(escaped, "/")
}

// NodeExists reports whether the coordinator knows the node
func (a *HTTPAPI) NodeExists(ctx context.Context, creds types.Credentials, name string) (bool, error) {
	resp, err := a.do(ctx, creds, http.MethodGet, a.endpoint("computer", name, "api", "json"), nil, "")
	if err != nil {
		return false, classifyTransport("node exists", err)
	}
	defer drain(resp)

	switch err := classifyStatus("node exists", resp); {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNodeNotFound):
		return false, nil
	default:
		return false, err
	}
}

// CreateNode registers a permanent node using the JNLP launcher
func (a *HTTPAPI) CreateNode(ctx context.Context, creds types.Credentials, spec NodeSpec) error {
	remoteFS := spec.RemoteFS
	if remoteFS == "" {
		remoteFS = "/var/lib/jenkins"
	}

	inner := map[string]any{
		"name":            spec.Name,
		"nodeDescription": spec.Description,
		"numExecutors":    spec.Executors,
		"remoteFS":        remoteFS,
		"labelString":     spec.Labels,
		"mode":            "NORMAL",
		"type":            nodeType,
		"retentionStrategy": map[string]string{
			"stapler-class": "hudson.slaves.RetentionStrategy$Always",
		},
		"nodeProperties": map[string]string{"stapler-class-bag": "true"},
		"launcher":       map[string]string{"stapler-class": "hudson.slaves.JNLPLauncher"},
	}
	payload, err := json.Marshal(inner)
	if err != nil {
		return &FatalError{Op: "create node", Err: err}
	}

	form := url.Values{}
	form.Set("name", spec.Name)
	form.Set("type", nodeType)
	form.Set("json", string(payload))

	return a.mutate(ctx, creds, "create node", a.endpoint("computer", "doCreateItem"), form)
}

// DeleteNode removes the node. A missing node yields ErrNodeNotFound.
func (a *HTTPAPI) DeleteNode(ctx context.Context, creds types.Credentials, name string) error {
	return a.mutate(ctx, creds, "delete node", a.endpoint("computer", name, "doDelete"), url.Values{})
}

func (a *HTTPAPI) mutate(ctx context.Context, creds types.Credentials, op, target string, form url.Values) error {
	crumbField, crumb, err := a.crumb(ctx, creds)
	if err != nil {
		return err
	}

	resp, err := a.do(ctx, creds, http.MethodPost, target, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded",
		header{crumbField, crumb})
	if err != nil {
		return classifyTransport(op, err)
	}
	defer drain(resp)
	return classifyStatus(op, resp)
}

// crumb fetches a CSRF crumb. Coordinators without CSRF protection answer
// 404 and no header is sent.
func (a *HTTPAPI) crumb(ctx context.Context, creds types.Credentials) (string, string, error) {
	resp, err := a.do(ctx, creds, http.MethodGet, a.endpoint("crumbIssuer", "api", "json"), nil, "")
	if err != nil {
		return "", "", classifyTransport("crumb", err)
	}
	defer drain(resp)

	if err := classifyStatus("crumb", resp); err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return "", "", nil
		}
		return "", "", err
	}

	var body struct {
		Crumb             string `json:"crumb"`
		CrumbRequestField string `json:"crumbRequestField"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", &FatalError{Op: "crumb", Err: fmt.Errorf("invalid crumb response: %w", err)}
	}
	return body.CrumbRequestField, body.Crumb, nil
}

type header struct {
	name, value string
}

func (a *HTTPAPI) do(ctx context.Context, creds types.Credentials, method, target string, body io.Reader, contentType string, headers ...header) (*http.Response, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, method)

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, h := range headers {
		if h.name != "" {
			req.Header.Set(h.name, h.value)
		}
	}
	return a.httpClient.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// classifyTransport sorts a failed round trip into transient or fatal. The
// caller giving up (context cancelled) is not worth retrying.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &FatalError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Op: op, Err: err}
	}

	// *url.Error is itself a net.Error, so judge what it wraps.
	cause := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &TransientError{Op: op, Err: err}
		}
		cause = urlErr.Err
	}

	var netErr net.Error
	if errors.As(cause, &netErr) || errors.Is(cause, io.EOF) || errors.Is(cause, io.ErrUnexpectedEOF) {
		return &TransientError{Op: op, Err: err}
	}
	return &FatalError{Op: op, Err: err}
}

func classifyStatus(op string, resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code < 400:
		return nil
	case code == http.StatusNotFound:
		return &FatalError{Op: op, StatusCode: code, Err: ErrNodeNotFound}
	case code == http.StatusTooManyRequests,
		code == http.StatusBadGateway,
		code == http.StatusServiceUnavailable,
		code == http.StatusGatewayTimeout:
		return &TransientError{Op: op, Err: fmt.Errorf("coordinator busy: http %d", code)}
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(msg))
	if text == "" {
		text = http.StatusText(code)
	}
	return &FatalError{Op: op, StatusCode: code, Err: errors.New(text)}
}
