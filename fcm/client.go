package fcm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/slush-dev/agentpush"
	"github.com/slush-dev/agentpush/internal/gcmpb"
)

// ErrEmptyToken is returned when the register endpoint answers with an
// empty token. FetchToken reports it as a successful, empty result.
var ErrEmptyToken = errors.New("fcm: registration returned an empty token")

// mcsAddr is the MCS endpoint for Android-native registrations.
const mcsAddr = "mtalk.google.com:5228"

const credentialsFile = "fcm_credentials.json"

// DataMessage is a push data message flattened to string key/value pairs.
type DataMessage struct {
	PersistentID string
	From         string
	Data         map[string]string
}

// JSON encodes Data as a JSON object string, the form handed to the
// incoming-call screen.
func (m DataMessage) JSON() (string, error) {
	return agentpush.EncodeDataMap(m.Data)
}

// Credentials holds Android-native FCM registration credentials.
type Credentials struct {
	Raw           json.RawMessage `json:"raw"` // GCM credentials (androidId, securityToken)
	Token         string          `json:"token"`
	PersistentIDs []string        `json:"persistent_ids"`
}

// Option configures Client.
type Option func(*Client)

// WithLogger sets a custom logger for Client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client for FCM registration.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithApp sets the application the token is issued for.
func WithApp(app AppIdentity) Option {
	return func(c *Client) {
		c.app = app
	}
}

// WithDevice overrides the handset profile used at checkin.
func WithDevice(device AndroidDeviceInfo) Option {
	return func(c *Client) {
		c.device = device
	}
}

// Client manages FCM registration and MCS push listening.
type Client struct {
	credentials *Credentials
	sessionDir  string
	app         AppIdentity
	device      AndroidDeviceInfo
	logger      *slog.Logger
	httpClient  *http.Client
	mu          sync.Mutex

	// dialMCS is overridable for testing (returns a conn to MCS server).
	dialMCS func(ctx context.Context) (io.ReadWriteCloser, error)

	onNewToken     func(token string)
	onDataMessage  func(DataMessage)
	onConnected    func()
	onDisconnected func()
	onError        func(error)
}

// NewClient creates a new Client storing its credentials under sessionDir.
func NewClient(sessionDir string, opts ...Option) *Client {
	c := &Client{
		sessionDir: sessionDir,
		device:     DefaultAndroidDevice(),
		logger:     slog.Default(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Device returns the handset profile presented at checkin.
func (c *Client) Device() AndroidDeviceInfo { return c.device }

// Token returns the current FCM token (empty if not registered).
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return ""
	}
	return c.credentials.Token
}

// Credentials returns a copy of the current FCM credentials (nil if not registered).
func (c *Client) Credentials() *Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return nil
	}
	cpy := *c.credentials
	cpy.PersistentIDs = make([]string, len(c.credentials.PersistentIDs))
	copy(cpy.PersistentIDs, c.credentials.PersistentIDs)
	cpy.Raw = make(json.RawMessage, len(c.credentials.Raw))
	copy(cpy.Raw, c.credentials.Raw)
	return &cpy
}

// OnNewToken registers a callback invoked after a fresh registration issues
// a token. Cached tokens do not trigger it.
func (c *Client) OnNewToken(fn func(token string)) { c.onNewToken = fn }

// OnDataMessage registers a callback for non-empty data messages.
// Must be called before Listen().
func (c *Client) OnDataMessage(fn func(DataMessage)) { c.onDataMessage = fn }

// OnConnected registers a callback invoked when MCS connection is established.
// Must be called before Listen().
func (c *Client) OnConnected(fn func()) { c.onConnected = fn }

// OnDisconnected registers a callback invoked when MCS connection drops.
// Must be called before Listen().
func (c *Client) OnDisconnected(fn func()) { c.onDisconnected = fn }

// OnError registers a callback invoked for listener errors.
// Must be called before Listen().
func (c *Client) OnError(fn func(error)) { c.onError = fn }

// Register performs Android-native FCM registration and persists credentials.
// If credentials already exist on disk with a token, it returns that token.
func (c *Client) Register(ctx context.Context) (string, error) {
	token, fresh, err := c.register(ctx)
	if err != nil {
		return "", err
	}
	if fresh && c.onNewToken != nil {
		c.onNewToken(token)
	}
	return token, nil
}

func (c *Client) register(ctx context.Context) (token string, fresh bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.credentials != nil && c.credentials.Token != "" {
		return c.credentials.Token, false, nil
	}

	if err := c.loadCredentials(); err == nil && c.credentials != nil && c.credentials.Token != "" {
		c.logger.Debug("FCM credentials already exist, reusing token")
		return c.credentials.Token, false, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("failed to load persisted FCM credentials; attempting fresh registration", "error", err)
	}

	if err := c.app.validate(); err != nil {
		return "", false, fmt.Errorf("FCM registration: %w", err)
	}

	c.logger.Debug("Starting Android-native FCM registration", "sender_id", c.app.SenderID, "package", c.app.Package)
	httpClient := c.loggingHTTPClient()

	creds, err := gcmCheckin(ctx, httpClient, gcmCredentials{}, c.device)
	if err != nil {
		return "", false, fmt.Errorf("FCM registration failed (checkin): %w", err)
	}
	c.logger.Debug("GCM checkin complete", "androidId", creds.AndroidID)

	// For Android-native registration the GCM token is the FCM token.
	fcmToken, err := gcmRegister(ctx, httpClient, creds, c.device, c.app)
	if err != nil {
		if errors.Is(err, ErrEmptyToken) {
			return "", false, err
		}
		return "", false, fmt.Errorf("FCM registration failed (register): %w", err)
	}

	rawCreds, err := json.Marshal(creds)
	if err != nil {
		return "", false, fmt.Errorf("serializing GCM credentials: %w", err)
	}

	c.credentials = &Credentials{
		Raw:           rawCreds,
		Token:         fcmToken,
		PersistentIDs: []string{},
	}

	if err := c.saveCredentials(); err != nil {
		c.logger.Error("Failed to save FCM credentials", "error", err)
	}

	c.logger.Info("FCM registration complete", "token_prefix", truncate(fcmToken, 20))
	return fcmToken, true, nil
}

// Refresh discards the cached registration and registers again, rotating
// the token. OnNewToken fires with the new token.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.credentials = nil
	err := os.Remove(c.credentialsPath())
	c.mu.Unlock()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("removing FCM credentials: %w", err)
	}
	return c.Register(ctx)
}

// FetchToken registers if needed and reports the outcome as a tagged
// result: cancellation is distinguished from failure, and an empty token
// from the server is a success with an empty value.
func (c *Client) FetchToken(ctx context.Context) agentpush.TokenResult {
	token, err := c.Register(ctx)
	switch {
	case err == nil:
		return agentpush.TokenOK(token)
	case errors.Is(err, ErrEmptyToken):
		return agentpush.TokenOK("")
	case ctx.Err() != nil:
		return agentpush.TokenCanceled()
	default:
		return agentpush.TokenFailed(err)
	}
}

// Listen connects to Google's MCS and processes incoming push notifications.
// It blocks until ctx is cancelled. Call Register() first to ensure credentials exist.
func (c *Client) Listen(ctx context.Context) error {
	c.mu.Lock()
	if c.credentials == nil {
		c.mu.Unlock()
		return fmt.Errorf("no FCM credentials: call Register() first")
	}

	var gcmCreds gcmCredentials
	if err := json.Unmarshal(c.credentials.Raw, &gcmCreds); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to parse GCM credentials: %w", err)
	}

	persistentIDs := make([]string, len(c.credentials.PersistentIDs))
	copy(persistentIDs, c.credentials.PersistentIDs)
	c.mu.Unlock()

	conn, err := c.dialMCSConn(ctx)
	if err != nil {
		return fmt.Errorf("MCS connect: %w", err)
	}

	mcs := newMCSClient(conn, gcmCreds, persistentIDs, c.logger)
	mcs.onConnected = func() {
		c.logger.Debug("MCS connected")
		if c.onConnected != nil {
			c.onConnected()
		}
	}
	mcs.onDisconnected = func(reason string) {
		c.logger.Debug("MCS disconnected", "reason", reason)
		if c.onDisconnected != nil {
			c.onDisconnected()
		}
	}
	mcs.onDataMessage = func(msg *gcmpb.DataMessageStanza) {
		c.handleMCSMessage(msg.PersistentID, msg.From, msg.AppData)
	}

	err = mcs.connect(ctx)
	if err != nil && c.onError != nil {
		c.onError(err)
	}
	return err
}

// dialMCSConn dials mtalk.google.com:5228 over TLS, or uses the test hook.
func (c *Client) dialMCSConn(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.dialMCS != nil {
		return c.dialMCS(ctx)
	}
	d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 30 * time.Second}}
	return d.DialContext(ctx, "tcp", mcsAddr)
}

// handleMCSMessage flattens AppData and dispatches non-empty messages.
// A repeated key keeps its last value.
func (c *Client) handleMCSMessage(persistentID, from string, appData []gcmpb.AppData) {
	c.logger.Debug("MCS message received", "persistentId", persistentID, "from", from)

	data := make(map[string]string, len(appData))
	for _, kv := range appData {
		data[kv.Key] = kv.Value
	}

	if len(data) == 0 {
		c.logger.Debug("Dropping data message without payload", "persistentId", persistentID)
	} else if c.onDataMessage != nil {
		c.onDataMessage(DataMessage{PersistentID: persistentID, From: from, Data: data})
	}

	c.addPersistentID(persistentID)
}

// maxPersistentIDs is the maximum number of persistent IDs to keep.
// Older IDs are pruned to bound the credential file and the LoginRequest.
const maxPersistentIDs = 200

// addPersistentID appends a persistent ID and saves credentials.
// If the list exceeds maxPersistentIDs, older entries are pruned.
func (c *Client) addPersistentID(id string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return
	}
	c.credentials.PersistentIDs = append(c.credentials.PersistentIDs, id)
	if len(c.credentials.PersistentIDs) > maxPersistentIDs {
		c.credentials.PersistentIDs = c.credentials.PersistentIDs[len(c.credentials.PersistentIDs)-maxPersistentIDs:]
	}

	if err := c.saveCredentials(); err != nil {
		c.logger.Error("Failed to save persistent IDs", "error", err)
	}
}

// PersistentIDs returns the list of processed message IDs.
func (c *Client) PersistentIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return nil
	}
	ids := make([]string, len(c.credentials.PersistentIDs))
	copy(ids, c.credentials.PersistentIDs)
	return ids
}

func (c *Client) credentialsPath() string {
	return filepath.Join(c.sessionDir, credentialsFile)
}

// loadCredentials reads FCM credentials from disk. Callers hold c.mu.
func (c *Client) loadCredentials() error {
	data, err := os.ReadFile(c.credentialsPath())
	if err != nil {
		return err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parsing FCM credentials: %w", err)
	}
	c.credentials = &creds
	return nil
}

// saveCredentials writes FCM credentials to disk. Callers hold c.mu.
func (c *Client) saveCredentials() error {
	if c.credentials == nil {
		return fmt.Errorf("no credentials to save")
	}
	if err := os.MkdirAll(c.sessionDir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(c.credentials, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing FCM credentials: %w", err)
	}
	if err := os.WriteFile(c.credentialsPath(), data, 0o600); err != nil {
		return fmt.Errorf("writing FCM credentials: %w", err)
	}
	c.logger.Debug("Saved FCM credentials", "path", c.credentialsPath())
	return nil
}

// loggingHTTPClient returns the Client's HTTP client wrapped with request/response
// logging if the logger is at Debug level, otherwise returns it as-is.
func (c *Client) loggingHTTPClient() *http.Client {
	if !c.logger.Enabled(context.Background(), slog.LevelDebug) {
		return c.httpClient
	}
	transport := c.httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Transport: &loggingRoundTripper{inner: transport, logger: c.logger},
		Timeout:   c.httpClient.Timeout,
	}
}

type loggingRoundTripper struct {
	inner  http.RoundTripper
	logger *slog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	t.logger.Debug(">>> "+req.Method, "url", req.URL.String())
	for k, v := range req.Header {
		val := strings.Join(v, ", ")
		if strings.EqualFold(k, "Authorization") {
			val = truncate(val, 24) + "..."
		}
		t.logger.Debug("  Request header", "key", k, "value", val)
	}
	if req.Body != nil && req.Body != http.NoBody {
		bodyBytes, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err == nil {
			t.logger.Debug("  Request body", "length", len(bodyBytes))
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		t.logger.Debug("<<< Error", "error", err)
		return nil, err
	}

	t.logger.Debug("<<< Response", "status", resp.StatusCode, "url", req.URL.String())
	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr == nil {
		t.logger.Debug("  Response body", "length", len(respBody), "data", truncate(string(respBody), 200))
		resp.Body = io.NopCloser(bytes.NewReader(respBody))
	}

	return resp, nil
}

// truncate returns the first maxLen bytes of s, or s itself if shorter.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
