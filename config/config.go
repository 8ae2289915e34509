// Package config loads agentpush settings from a YAML file, optional .env
// files and AGENTPUSH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/slush-dev/agentpush"
	"github.com/slush-dev/agentpush/fcm"
	"github.com/slush-dev/agentpush/store"
)

// FileName is the config file looked up in the session directory.
const FileName = "agentpush.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTPUSH_"

type Config struct {
	// UserID is the default agent id used when a command is not given one.
	UserID     string `yaml:"user_id"`
	SessionDir string `yaml:"session_dir"`

	Store     StoreConfig     `yaml:"store"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Redis     RedisConfig     `yaml:"redis"`
	FCM       FCMConfig       `yaml:"fcm"`
	Device    DeviceConfig    `yaml:"device"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
}

type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type FCMConfig struct {
	SenderID    string `yaml:"sender_id"`
	AppPackage  string `yaml:"app_package"`
	AppCertSHA1 string `yaml:"app_cert_sha1"`
	AppVersion  string `yaml:"app_version"`
}

type DeviceConfig struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	device := fcm.DefaultAndroidDevice()
	return Config{
		Store:  StoreConfig{Backend: string(store.BackendMemory), Collection: agentpush.AgentsCollection},
		Device: DeviceConfig{Manufacturer: device.Manufacturer, Model: device.Model},
		HTTP:   HTTPConfig{Addr: ":8080"},
	}
}

// Load builds a Config from defaults, the YAML file at path, .env files and
// the environment, then validates it. A missing file at path is not an
// error. .env files never override variables already set.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return Config{}, fmt.Errorf("parsing %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var dotenv []string
	if path != "" {
		dotenv = append(dotenv, filepath.Join(filepath.Dir(path), ".env"))
	}
	dotenv = append(dotenv, ".env")
	if err := loadDotEnv(dotenv...); err != nil {
		return Config{}, err
	}

	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"USER_ID":                    &c.UserID,
		"SESSION_DIR":                &c.SessionDir,
		"STORE_BACKEND":              &c.Store.Backend,
		"STORE_COLLECTION":           &c.Store.Collection,
		"FIRESTORE_PROJECT_ID":       &c.Firestore.ProjectID,
		"FIRESTORE_CREDENTIALS_FILE": &c.Firestore.CredentialsFile,
		"REDIS_ADDR":                 &c.Redis.Addr,
		"REDIS_PASSWORD":             &c.Redis.Password,
		"FCM_SENDER_ID":              &c.FCM.SenderID,
		"FCM_APP_PACKAGE":            &c.FCM.AppPackage,
		"FCM_APP_CERT_SHA1":          &c.FCM.AppCertSHA1,
		"FCM_APP_VERSION":            &c.FCM.AppVersion,
		"DEVICE_MANUFACTURER":        &c.Device.Manufacturer,
		"DEVICE_MODEL":               &c.Device.Model,
		"HTTP_ADDR":                  &c.HTTP.Addr,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sREDIS_DB must be an integer, got %q", EnvPrefix, v)
		}
		c.Redis.DB = n
	}
	return nil
}

var (
	senderIDPattern = regexp.MustCompile(`^[0-9]+$`)
	sha1Pattern     = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// Validate reports every inconsistency at once.
func (c Config) Validate() error {
	var errs []error

	switch store.Backend(c.Store.Backend) {
	case store.BackendMemory:
	case store.BackendFirestore:
		if c.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("firestore.project_id is required for the firestore backend"))
		}
	case store.BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of firestore, redis, memory, got %q", c.Store.Backend))
	}
	if c.Store.Collection == "" {
		errs = append(errs, errors.New("store.collection must not be empty"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB))
	}

	if c.FCM.SenderID != "" && !senderIDPattern.MatchString(c.FCM.SenderID) {
		errs = append(errs, fmt.Errorf("fcm.sender_id must be a numeric project number, got %q", c.FCM.SenderID))
	}
	if c.FCM.AppCertSHA1 != "" && !sha1Pattern.MatchString(c.FCM.AppCertSHA1) {
		errs = append(errs, errors.New("fcm.app_cert_sha1 must be 40 lowercase hex characters"))
	}

	return errors.Join(errs...)
}

// RequireFCM reports the settings missing for push registration.
func (c Config) RequireFCM() error {
	var errs []error
	if c.FCM.SenderID == "" {
		errs = append(errs, errors.New("fcm.sender_id is required"))
	}
	if c.FCM.AppPackage == "" {
		errs = append(errs, errors.New("fcm.app_package is required"))
	}
	return errors.Join(errs...)
}

// StoreConfig returns the document store settings.
func (c Config) StoreConfig() store.Config {
	return store.Config{
		Backend:         store.Backend(c.Store.Backend),
		ProjectID:       c.Firestore.ProjectID,
		CredentialsFile: c.Firestore.CredentialsFile,
		Redis: store.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		},
	}
}

// App returns the push application identity.
func (c Config) App() fcm.AppIdentity {
	return fcm.AppIdentity{
		Package:     c.FCM.AppPackage,
		SenderID:    c.FCM.SenderID,
		CertSHA1:    c.FCM.AppCertSHA1,
		VersionCode: c.FCM.AppVersion,
	}
}

// AndroidDevice returns the checkin profile with the configured
// manufacturer and model.
func (c Config) AndroidDevice() fcm.AndroidDeviceInfo {
	d := fcm.DefaultAndroidDevice()
	if c.Device.Manufacturer != "" {
		d.Manufacturer = c.Device.Manufacturer
	}
	if c.Device.Model != "" {
		d.Model = c.Device.Model
	}
	return d
}

// DeviceName is the display name written to agent records.
func (c Config) DeviceName() string {
	return c.AndroidDevice().Name()
}
