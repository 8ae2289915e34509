package fcm

import (
	"fmt"

	"github.com/slush-dev/agentpush"
)

// AndroidDeviceInfo is the handset identity presented during GCM checkin
// and registration.
type AndroidDeviceInfo struct {
	// BuildFingerprint has the form
	// brand/product/device:version/build_id/build_number:user/release-keys
	BuildFingerprint string

	SDKVersion int // e.g. 33 for Android 13
	GMSVersion int // Google Play Services version code

	Device       string // Build.DEVICE codename
	Model        string // Build.MODEL
	Hardware     string // Build.HARDWARE
	Brand        string // Build.BRAND
	Manufacturer string // Build.MANUFACTURER
	Product      string // Build.PRODUCT
	Bootloader   string
	Radio        string

	// BuildTime is Build.TIME in seconds.
	BuildTime int64

	// ChromeVersion feeds the X-cliv registration field.
	ChromeVersion string
}

// DefaultAndroidDevice returns a Pixel 7 (panther) profile taken from the
// TQ3A.230805.001 factory image.
func DefaultAndroidDevice() AndroidDeviceInfo {
	return AndroidDeviceInfo{
		BuildFingerprint: "google/panther/panther:13/TQ3A.230805.001/10316531:user/release-keys",
		SDKVersion:       33,
		GMSVersion:       241516037,
		Device:           "panther",
		Model:            "Pixel 7",
		Hardware:         "panther",
		Brand:            "google",
		Manufacturer:     "Google",
		Product:          "panther",
		Bootloader:       "slider-1.2-9819352",
		Radio:            "g5300g-230511-230925-B-10484716",
		BuildTime:        1691193600,
		ChromeVersion:    "120.0.6099.144",
	}
}

// Name returns the display name stored in the agent record, e.g.
// "Google Pixel 7".
func (d AndroidDeviceInfo) Name() string {
	return agentpush.DeviceName(d.Manufacturer, d.Model)
}

// userAgent is the User-Agent sent to the register endpoint.
func (d AndroidDeviceInfo) userAgent() string {
	return fmt.Sprintf("Android-GCM/1.5 (%s %s)", d.Device, d.Model)
}

// AppIdentity names the Android application the token is issued for. The
// values come from the Firebase project of the calling backend.
type AppIdentity struct {
	Package     string // application id, e.g. com.bandwidth.sample
	SenderID    string // Firebase project number
	CertSHA1    string // lowercase hex SHA-1 of the APK signing certificate
	VersionCode string
}

func (a AppIdentity) validate() error {
	if a.Package == "" {
		return fmt.Errorf("app package is required")
	}
	if a.SenderID == "" {
		return fmt.Errorf("sender ID is required")
	}
	return nil
}
