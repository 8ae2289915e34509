package fcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slush-dev/agentpush/internal/gcmpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testApp = AppIdentity{
	Package:     "com.bandwidth.sample",
	SenderID:    "1234567890",
	CertSHA1:    "38918a453d07199354f8b19af05ec6562ced5788",
	VersionCode: "1",
}

func withCheckinURL(t *testing.T, url string) {
	t.Helper()
	orig := gcmCheckinURL
	gcmCheckinURL = url
	t.Cleanup(func() { gcmCheckinURL = orig })
}

func withRegisterURL(t *testing.T, url string) {
	t.Helper()
	orig := gcmRegisterURL
	gcmRegisterURL = url
	t.Cleanup(func() { gcmRegisterURL = orig })
}

func checkinResponse(androidID, securityToken uint64) []byte {
	resp := &gcmpb.AndroidCheckinResponse{
		StatsOk:       true,
		AndroidID:     androidID,
		SecurityToken: securityToken,
	}
	return resp.Marshal()
}

func TestGCMCheckin(t *testing.T) {
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))

		var err error
		receivedBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(checkinResponse(123456789, 987654321))
	}))
	defer srv.Close()
	withCheckinURL(t, srv.URL)

	device := DefaultAndroidDevice()
	creds, err := gcmCheckin(context.Background(), srv.Client(), gcmCredentials{}, device)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), creds.AndroidID)
	assert.Equal(t, uint64(987654321), creds.SecurityToken)

	var req gcmpb.AndroidCheckinRequest
	require.NoError(t, req.Unmarshal(receivedBody))
	require.NotNil(t, req.Checkin)
	assert.Equal(t, gcmpb.DeviceAndroidOS, req.Checkin.Type)
	assert.Zero(t, req.ID)
	assert.Equal(t, int32(3), req.Version)

	build := req.Checkin.Build
	require.NotNil(t, build, "checkin must include AndroidBuildProto")
	assert.Equal(t, device.BuildFingerprint, build.Fingerprint)
	assert.Equal(t, device.Hardware, build.Hardware)
	assert.Equal(t, device.Brand, build.Brand)
	assert.Equal(t, device.Device, build.Device)
	assert.Equal(t, device.Model, build.Model)
	assert.Equal(t, device.Manufacturer, build.Manufacturer)
	assert.Equal(t, device.Product, build.Product)
	assert.Equal(t, int32(device.SDKVersion), build.SDKVersion)
	assert.Equal(t, int32(device.GMSVersion), build.PackageVersionCode)
	assert.Equal(t, "android-google", build.ClientID)

	assert.Equal(t, "en_US", req.Locale)
	assert.Equal(t, "America/New_York", req.TimeZone)
}

func TestGCMCheckin_Recheckin(t *testing.T) {
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		receivedBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.Write(checkinResponse(111, 222))
	}))
	defer srv.Close()
	withCheckinURL(t, srv.URL)

	creds, err := gcmCheckin(context.Background(), srv.Client(), gcmCredentials{AndroidID: 111, SecurityToken: 222}, DefaultAndroidDevice())
	require.NoError(t, err)
	assert.Equal(t, gcmCredentials{AndroidID: 111, SecurityToken: 222}, creds)

	var req gcmpb.AndroidCheckinRequest
	require.NoError(t, req.Unmarshal(receivedBody))
	assert.Equal(t, int64(111), req.ID)
	assert.Equal(t, uint64(222), req.SecurityToken)
}

func TestGCMCheckin_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer srv.Close()
	withCheckinURL(t, srv.URL)

	_, err := gcmCheckin(context.Background(), srv.Client(), gcmCredentials{}, DefaultAndroidDevice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestGCMCheckin_NoCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(checkinResponse(0, 0))
	}))
	defer srv.Close()
	withCheckinURL(t, srv.URL)

	_, err := gcmCheckin(context.Background(), srv.Client(), gcmCredentials{}, DefaultAndroidDevice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device credentials")
}

func TestGCMRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "AidLogin 123:456", r.Header.Get("Authorization"))
		assert.Equal(t, testApp.Package, r.Header.Get("app"))
		assert.Contains(t, r.Header.Get("User-Agent"), "Android-GCM/1.5")

		require.NoError(t, r.ParseForm())
		assert.Equal(t, testApp.Package, r.PostForm.Get("app"))
		assert.Equal(t, testApp.SenderID, r.PostForm.Get("sender"))
		assert.Equal(t, "123", r.PostForm.Get("device"))
		assert.Equal(t, testApp.CertSHA1, r.PostForm.Get("cert"))
		assert.Equal(t, testApp.VersionCode, r.PostForm.Get("app_ver"))

		assert.NotEmpty(t, r.PostForm.Get("gcm_ver"))
		assert.Equal(t, "GCM", r.PostForm.Get("X-scope"))
		assert.NotEmpty(t, r.PostForm.Get("X-osv"))
		assert.NotEmpty(t, r.PostForm.Get("X-gmsv"))
		assert.NotEmpty(t, r.PostForm.Get("X-cliv"))
		assert.Regexp(t, "^[0-9a-f]{11}$", r.PostForm.Get("X-appid"))

		fmt.Fprint(w, "token=test-fcm-token-xyz \n")
	}))
	defer srv.Close()
	withRegisterURL(t, srv.URL)

	creds := gcmCredentials{AndroidID: 123, SecurityToken: 456}
	token, err := gcmRegister(context.Background(), srv.Client(), creds, DefaultAndroidDevice(), testApp)
	require.NoError(t, err)
	assert.Equal(t, "test-fcm-token-xyz", token)
}

func TestGCMRegister_OptionalFieldsOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, hasCert := r.PostForm["cert"]
		_, hasVer := r.PostForm["app_ver"]
		assert.False(t, hasCert)
		assert.False(t, hasVer)
		fmt.Fprint(w, "token=t")
	}))
	defer srv.Close()
	withRegisterURL(t, srv.URL)

	app := AppIdentity{Package: "com.example", SenderID: "42"}
	token, err := gcmRegister(context.Background(), srv.Client(), gcmCredentials{AndroidID: 1, SecurityToken: 2}, DefaultAndroidDevice(), app)
	require.NoError(t, err)
	assert.Equal(t, "t", token)
}

func TestGCMRegister_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "token=")
	}))
	defer srv.Close()
	withRegisterURL(t, srv.URL)

	_, err := gcmRegister(context.Background(), srv.Client(), gcmCredentials{AndroidID: 1, SecurityToken: 2}, DefaultAndroidDevice(), testApp)
	assert.True(t, errors.Is(err, ErrEmptyToken))
}

func TestGCMRegister_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Error=PHONE_REGISTRATION_ERROR")
	}))
	defer srv.Close()
	withRegisterURL(t, srv.URL)

	_, err := gcmRegister(context.Background(), srv.Client(), gcmCredentials{AndroidID: 123, SecurityToken: 456}, DefaultAndroidDevice(), testApp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PHONE_REGISTRATION_ERROR")
}

func TestGCMRegister_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	}))
	defer srv.Close()
	withRegisterURL(t, srv.URL)

	_, err := gcmRegister(context.Background(), srv.Client(), gcmCredentials{AndroidID: 123, SecurityToken: 456}, DefaultAndroidDevice(), testApp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestGenerateInstanceID(t *testing.T) {
	a, err := generateInstanceID()
	require.NoError(t, err)
	b, err := generateInstanceID()
	require.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{11}$", a)
	assert.NotEqual(t, a, b)
}
