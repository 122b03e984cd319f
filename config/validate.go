package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fieldEnv maps struct fields to the variable that sets them so validation
// errors name what the operator has to change.
var fieldEnv = map[string]string{
	"Config.Temporal.HostPort":        EnvHostURL,
	"Config.Temporal.Namespace":       EnvNamespace,
	"Config.Temporal.TaskQueue":       EnvTaskQueue,
	"Config.Telemetry.Endpoint":       EnvOTLPEndpoint,
	"Config.Telemetry.TracesExporter": EnvTracesExporter,
	"Config.Telemetry.PrometheusAddr": EnvPrometheusAddr,
	"Config.Telemetry.ServiceName":    EnvResourceAttributes,
	"Config.Telemetry.Environment":    EnvEnvironment,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration without touching the network. It
// returns a *ConfigurationError for the first problem found:
//
//   - the Temporal address is not host:port
//   - only one of the TLS certificate and key is set
//   - the Temporal address is not a loopback address and TLS is not set
//   - the TLS files do not exist or cannot be read
//   - a telemetry setting is malformed
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return &ConfigurationError{Field: "config", Reason: err.Error()}
	}

	t := c.Temporal
	switch {
	case t.TLSCertPath != "" && t.TLSKeyPath == "":
		return &ConfigurationError{Field: EnvTLSKey, Reason: "required when " + EnvTLSCert + " is set"}
	case t.TLSCertPath == "" && t.TLSKeyPath != "":
		return &ConfigurationError{Field: EnvTLSCert, Reason: "required when " + EnvTLSKey + " is set"}
	}
	if c.IsRemote() && !c.TLSEnabled() {
		return &ConfigurationError{
			Field:  EnvHostURL,
			Reason: fmt.Sprintf("remote host %q requires %s and %s", t.HostPort, EnvTLSCert, EnvTLSKey),
		}
	}
	if c.TLSEnabled() {
		if err := checkReadable(EnvTLSCert, t.TLSCertPath); err != nil {
			return err
		}
		if err := checkReadable(EnvTLSKey, t.TLSKeyPath); err != nil {
			return err
		}
	}

	if !c.Telemetry.Disabled {
		if err := checkCollector(c.Telemetry.Endpoint); err != nil {
			return err
		}
	}
	return nil
}

// TLSEnabled reports whether mutual TLS material is configured.
func (c *Config) TLSEnabled() bool {
	return c.Temporal.TLSCertPath != "" && c.Temporal.TLSKeyPath != ""
}

// IsRemote reports whether the Temporal address is not a loopback address.
func (c *Config) IsRemote() bool {
	host, _, err := net.SplitHostPort(c.Temporal.HostPort)
	if err != nil {
		host = c.Temporal.HostPort
	}
	return !IsLoopbackHost(host)
}

// TLSConfig loads the client key pair. It returns nil, nil when TLS is not
// configured.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.Temporal.TLSCertPath, c.Temporal.TLSKeyPath)
	if err != nil {
		return nil, &ConfigurationError{Field: EnvTLSCert, Reason: fmt.Sprintf("load key pair: %v", err)}
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// TelemetryLocal reports whether the collector runs on this host.
func (c *Config) TelemetryLocal() bool {
	endpoint := c.Telemetry.Endpoint
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return IsLoopbackHost(u.Hostname())
	}
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = endpoint
	}
	return IsLoopbackHost(host)
}

// AccessTokenHeader returns the export header carrying the access token.
// The token is formatted "header=value"; a bare token is sent as the
// authorization header. Nothing is returned for local collectors or when no
// token is set.
func (c *Config) AccessTokenHeader() map[string]string {
	token := c.Telemetry.AccessToken
	if token == "" || c.TelemetryLocal() {
		return nil
	}
	k, v, ok := strings.Cut(token, "=")
	k, v = strings.TrimSpace(k), strings.TrimSpace(v)
	if !ok || k == "" {
		return map[string]string{"authorization": strings.TrimSpace(token)}
	}
	return map[string]string{k: v}
}

// IsLoopbackHost reports whether host names this machine: "localhost",
// any "*.localhost" name, or a loopback IP.
func IsLoopbackHost(host string) bool {
	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func fieldError(fe validator.FieldError) *ConfigurationError {
	field, ok := fieldEnv[fe.StructNamespace()]
	if !ok {
		field = fe.StructNamespace()
	}
	reason := "failed " + fe.Tag() + " check"
	switch fe.Tag() {
	case "required":
		reason = "must be set"
	case "hostname_port":
		reason = fmt.Sprintf("%q is not host:port", fe.Value())
	case "oneof":
		reason = fmt.Sprintf("%q is not one of %s", fe.Value(), fe.Param())
	}
	return &ConfigurationError{Field: field, Reason: reason}
}

func checkReadable(field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &ConfigurationError{Field: field, Reason: fmt.Sprintf("cannot read %q: %v", path, err)}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return &ConfigurationError{Field: field, Reason: fmt.Sprintf("cannot stat %q: %v", path, err)}
	}
	if info.IsDir() {
		return &ConfigurationError{Field: field, Reason: fmt.Sprintf("%q is a directory", path)}
	}
	return nil
}

func checkCollector(endpoint string) error {
	if !strings.Contains(endpoint, "://") {
		if _, _, err := net.SplitHostPort(endpoint); err != nil {
			return &ConfigurationError{Field: EnvOTLPEndpoint, Reason: fmt.Sprintf("%q is not a URL or host:port", endpoint)}
		}
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return &ConfigurationError{Field: EnvOTLPEndpoint, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigurationError{Field: EnvOTLPEndpoint, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return &ConfigurationError{Field: EnvOTLPEndpoint, Reason: "missing host"}
	}
	return nil
}
