// Package config implements the demo server's configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"blitiri.com.ar/go/log"

	"gopkg.in/yaml.v2"
)

// Config holds the settings for the demo smtpproto-serve binary. It is
// intentionally narrow: the fields that matter to a protocol-parsing demo
// (listen address, advertised hostname, size limits, monitoring) rather
// than the full queue/delivery configuration a real MTA would carry.
type Config struct {
	Hostname string `yaml:"hostname"`

	// ListenAddr is either a host:port pair, or "systemd" to take the
	// listener from socket activation. It is used for the plain SMTP
	// socket; SubmissionAddr and SubmissionTLSAddr are optional and, when
	// empty, that socket mode is not started.
	ListenAddr string `yaml:"listen_addr"`

	SubmissionAddr    string `yaml:"submission_addr"`
	SubmissionTLSAddr string `yaml:"submission_tls_addr"`

	MonitoringAddr string `yaml:"monitoring_addr"`

	// MailLogPath is where delivery/rejection/auth events are logged;
	// "<syslog>", "<stdout>" and "<stderr>" are recognized specially.
	MailLogPath string `yaml:"mail_log_path"`

	MaxDataSizeMb int64 `yaml:"max_data_size_mb"`

	// MaxCommandErrors is how many malformed commands a session tolerates
	// before the connection is dropped.
	MaxCommandErrors int `yaml:"max_command_errors"`

	// IdleTimeout bounds how long a session may sit without sending a
	// command, as a Go duration string (e.g. "5m").
	IdleTimeout string `yaml:"idle_timeout"`
}

var defaultConfig = &Config{
	ListenAddr:       "systemd",
	MailLogPath:      "<stdout>",
	MaxDataSizeMb:    50,
	MaxCommandErrors: 3,
	IdleTimeout:      "5m",
}

// Load reads the config from path, layering it over the defaults, and then
// layering overrides (a YAML fragment, typically from a command-line flag)
// on top of that.
func Load(path, overrides string) (*Config, error) {
	c := *defaultConfig

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config at %q: %v", path, err)
	}

	fromFile := &Config{}
	if err := yaml.Unmarshal(buf, fromFile); err != nil {
		return nil, fmt.Errorf("parsing config: %v", err)
	}
	override(&c, fromFile)

	fromOverrides := &Config{}
	if err := yaml.Unmarshal([]byte(overrides), fromOverrides); err != nil {
		return nil, fmt.Errorf("parsing override: %v", err)
	}
	override(&c, fromOverrides)

	if c.Hostname == "" {
		c.Hostname, err = os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %v", err)
		}
	}

	if _, err := time.ParseDuration(c.IdleTimeout); err != nil {
		return nil, fmt.Errorf("invalid idle_timeout value %q: %v", c.IdleTimeout, err)
	}

	return &c, nil
}

// override copies every non-zero field set in o into c.
func override(c, o *Config) {
	if o.Hostname != "" {
		c.Hostname = o.Hostname
	}
	if o.ListenAddr != "" {
		c.ListenAddr = o.ListenAddr
	}
	if o.SubmissionAddr != "" {
		c.SubmissionAddr = o.SubmissionAddr
	}
	if o.SubmissionTLSAddr != "" {
		c.SubmissionTLSAddr = o.SubmissionTLSAddr
	}
	if o.MonitoringAddr != "" {
		c.MonitoringAddr = o.MonitoringAddr
	}
	if o.MailLogPath != "" {
		c.MailLogPath = o.MailLogPath
	}
	if o.MaxDataSizeMb > 0 {
		c.MaxDataSizeMb = o.MaxDataSizeMb
	}
	if o.MaxCommandErrors > 0 {
		c.MaxCommandErrors = o.MaxCommandErrors
	}
	if o.IdleTimeout != "" {
		c.IdleTimeout = o.IdleTimeout
	}
}

// LogConfig logs the given configuration, in a human-friendly way.
func LogConfig(c *Config) {
	log.Infof("Configuration:")
	log.Infof("  Hostname: %q", c.Hostname)
	log.Infof("  Listen address: %q", c.ListenAddr)
	log.Infof("  Submission address: %q", c.SubmissionAddr)
	log.Infof("  Submission+TLS address: %q", c.SubmissionTLSAddr)
	log.Infof("  Monitoring address: %q", c.MonitoringAddr)
	log.Infof("  Mail log path: %q", c.MailLogPath)
	log.Infof("  Max data size (MB): %d", c.MaxDataSizeMb)
	log.Infof("  Max command errors: %d", c.MaxCommandErrors)
	log.Infof("  Idle timeout: %s", c.IdleTimeoutDuration())
}

// IdleTimeoutDuration returns IdleTimeout parsed as a time.Duration. Load
// validates the string, so parsing here cannot fail.
func (c *Config) IdleTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	return d
}

// MaxDataSizeBytes returns the configured data-size limit in bytes.
func (c *Config) MaxDataSizeBytes() int64 {
	return c.MaxDataSizeMb * 1024 * 1024
}
