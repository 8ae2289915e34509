package fcm

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAndroidDevice(t *testing.T) {
	device := DefaultAndroidDevice()

	// brand/product/device:version/build_id/build_number:user/release-keys
	fingerprintPattern := regexp.MustCompile(`^[^/]+/[^/]+/[^:]+:[0-9]+/[^/]+/[^:]+:(user|userdebug)/(release-keys|dev-keys)$`)
	assert.Regexp(t, fingerprintPattern, device.BuildFingerprint)

	assert.GreaterOrEqual(t, device.SDKVersion, 24)
	assert.LessOrEqual(t, device.SDKVersion, 40)
	assert.NotZero(t, device.GMSVersion)
	assert.NotEmpty(t, device.Device)
	assert.NotEmpty(t, device.Model)
	assert.Regexp(t, `^\d+\.\d+\.\d+\.\d+$`, device.ChromeVersion)
}

func TestAndroidDeviceName(t *testing.T) {
	assert.Equal(t, "Google Pixel 7", DefaultAndroidDevice().Name())

	d := DefaultAndroidDevice()
	d.Manufacturer = "samsung"
	d.Model = "SM-G991B"
	assert.Equal(t, "Samsung SM-G991B", d.Name())
}

func TestAndroidDeviceUserAgent(t *testing.T) {
	assert.Equal(t, "Android-GCM/1.5 (panther Pixel 7)", DefaultAndroidDevice().userAgent())
}

func TestAppIdentityValidate(t *testing.T) {
	assert.NoError(t, testApp.validate())
	assert.Error(t, AppIdentity{SenderID: "1"}.validate())
	assert.Error(t, AppIdentity{Package: "com.example"}.validate())
}
