package fcm

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/slush-dev/agentpush/internal/gcmpb"
)

// Endpoints are variables so tests can point them at httptest servers.
var (
	gcmCheckinURL  = "https://android.clients.google.com/checkin"
	gcmRegisterURL = "https://android.clients.google.com/c2dm/register3"
)

// gcmCredentials are the device credentials issued at checkin.
type gcmCredentials struct {
	AndroidID     uint64 `json:"androidId"`
	SecurityToken uint64 `json:"securityToken"`
}

// gcmCheckin checks the device in. Non-zero androidID and securityToken
// make it a re-checkin of an existing device.
func gcmCheckin(ctx context.Context, httpClient *http.Client, creds gcmCredentials, device AndroidDeviceInfo) (gcmCredentials, error) {
	req := &gcmpb.AndroidCheckinRequest{
		Checkin: &gcmpb.AndroidCheckinProto{
			Build: &gcmpb.AndroidBuildProto{
				Fingerprint:        device.BuildFingerprint,
				Hardware:           device.Hardware,
				Brand:              device.Brand,
				Radio:              device.Radio,
				Bootloader:         device.Bootloader,
				ClientID:           "android-google",
				Time:               device.BuildTime,
				PackageVersionCode: int32(device.GMSVersion),
				Device:             device.Device,
				SDKVersion:         int32(device.SDKVersion),
				Model:              device.Model,
				Manufacturer:       device.Manufacturer,
				Product:            device.Product,
			},
			Type: gcmpb.DeviceAndroidOS,
		},
		Version:  3,
		Locale:   "en_US",
		TimeZone: "America/New_York",
	}
	if creds.AndroidID != 0 {
		req.ID = int64(creds.AndroidID)
		req.SecurityToken = creds.SecurityToken
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, gcmCheckinURL, bytes.NewReader(req.Marshal()))
	if err != nil {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")

	respBody, err := doGCM(httpClient, httpReq)
	if err != nil {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: %w", err)
	}

	var resp gcmpb.AndroidCheckinResponse
	if err := resp.Unmarshal(respBody); err != nil {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: unmarshal response: %w", err)
	}
	if resp.AndroidID == 0 || resp.SecurityToken == 0 {
		return gcmCredentials{}, fmt.Errorf("gcm checkin: response carries no device credentials")
	}
	return gcmCredentials{AndroidID: resp.AndroidID, SecurityToken: resp.SecurityToken}, nil
}

// generateInstanceID returns an 11-character hex instance ID, as the GMS
// instance-ID library does.
func generateInstanceID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate instance ID: %w", err)
	}
	return hex.EncodeToString(b)[:11], nil
}

// gcmRegister asks c2dm/register3 for a token for app on the checked-in
// device. For Android-native registration the GCM token is the FCM token.
// An empty token in an otherwise well-formed response yields ErrEmptyToken.
func gcmRegister(ctx context.Context, httpClient *http.Client, creds gcmCredentials, device AndroidDeviceInfo, app AppIdentity) (string, error) {
	instanceID, err := generateInstanceID()
	if err != nil {
		return "", err
	}

	form := url.Values{
		"app":     {app.Package},
		"sender":  {app.SenderID},
		"device":  {strconv.FormatUint(creds.AndroidID, 10)},
		"gcm_ver": {strconv.Itoa(device.GMSVersion)},
		"X-scope": {"GCM"},
		"X-appid": {instanceID},
		"X-osv":   {strconv.Itoa(device.SDKVersion)},
		"X-gmsv":  {strconv.Itoa(device.GMSVersion)},
		"X-cliv":  {"iid-" + device.ChromeVersion},
	}
	if app.CertSHA1 != "" {
		form.Set("cert", app.CertSHA1)
	}
	if app.VersionCode != "" {
		form.Set("app_ver", app.VersionCode)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, gcmRegisterURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("gcm register: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", fmt.Sprintf("AidLogin %d:%d", creds.AndroidID, creds.SecurityToken))
	httpReq.Header.Set("User-Agent", device.userAgent())
	httpReq.Header.Set("app", app.Package)

	respBody, err := doGCM(httpClient, httpReq)
	if err != nil {
		return "", fmt.Errorf("gcm register: %w", err)
	}

	body := strings.TrimSpace(string(respBody))
	if token, found := strings.CutPrefix(body, "token="); found {
		if token == "" {
			return "", ErrEmptyToken
		}
		return token, nil
	}
	if reason, found := strings.CutPrefix(body, "Error="); found {
		return "", fmt.Errorf("gcm register: server error %s", reason)
	}
	return "", fmt.Errorf("gcm register: unexpected response: %s", body)
}

// doGCM executes req and returns the body of a 200 response.
func doGCM(httpClient *http.Client, req *http.Request) ([]byte, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
