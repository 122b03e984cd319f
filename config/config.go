// Package config holds the process configuration: where the Temporal
// frontend lives, how to authenticate to it, and where telemetry goes.
//
// Configuration comes from environment variables only. With no variable set
// the process targets a local development setup (Temporal on localhost:7233,
// OTLP collector on localhost:4317).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Defaults used when the corresponding variable is unset.
const (
	DefaultHostPort          = "localhost:7233"
	DefaultNamespace         = "default"
	DefaultTaskQueue         = "hello-world-task-queue"
	DefaultTelemetryEndpoint = "http://localhost:4317"
	DefaultEnvironment       = "development"
	DefaultServiceName       = "temporal-hello-world"
	DefaultTracesExporter    = "otlp"
)

// Environment variables read by Load.
const (
	EnvHostURL            = "TEMPORAL_HOST_URL"
	EnvNamespace          = "TEMPORAL_NAMESPACE"
	EnvTaskQueue          = "TEMPORAL_TASK_QUEUE"
	EnvTLSCert            = "TEMPORAL_TLS_CERT"
	EnvTLSKey             = "TEMPORAL_TLS_KEY"
	EnvOTLPEndpoint       = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvAccessToken        = "OTEL_ACCESS_TOKEN"
	EnvResourceAttributes = "OTEL_RESOURCE_ATTRIBUTES"
	EnvEnvironment        = "OTEL_ENVIRONMENT"
	EnvSDKDisabled        = "OTEL_SDK_DISABLED"
	EnvTracesExporter     = "OTEL_TRACES_EXPORTER"
	EnvPrometheusAddr     = "OTEL_PROMETHEUS_ADDR"
	EnvDebug              = "HELLO_DEBUG"
)

type (
	// Config is the validated process configuration.
	Config struct {
		Temporal  Temporal
		Telemetry Telemetry
		// Debug enables debug logs.
		Debug bool
	}

	// Temporal describes the connection to the orchestration service.
	Temporal struct {
		// HostPort is the frontend address.
		HostPort string `validate:"required,hostname_port"`
		// Namespace scopes workflow executions.
		Namespace string `validate:"required"`
		// TaskQueue routes workflow tasks to this worker.
		TaskQueue string `validate:"required"`
		// TLSCertPath and TLSKeyPath locate the mTLS client key pair. Both
		// or neither must be set.
		TLSCertPath string
		TLSKeyPath  string
	}

	// Telemetry describes the export pipeline.
	Telemetry struct {
		// Disabled turns exports off entirely.
		Disabled bool
		// Endpoint is the OTLP/gRPC collector URL.
		Endpoint string `validate:"required"`
		// AccessToken is sent as a request header to non-local collectors,
		// formatted "header=value".
		AccessToken string
		// TracesExporter is one of "otlp", "console" or "none".
		TracesExporter string `validate:"oneof=otlp console none"`
		// PrometheusAddr optionally serves metrics for scraping.
		PrometheusAddr string `validate:"omitempty,hostname_port"`
		// ServiceName and Environment end up in the resource attributes.
		ServiceName string `validate:"required"`
		Environment string `validate:"required"`
		// ResourceAttributes holds the recognized pairs parsed from
		// OTEL_RESOURCE_ATTRIBUTES.
		ResourceAttributes map[string]string
	}
)

// Load reads the configuration from the environment and applies defaults.
// It does not validate: call Validate before creating any resource.
func Load() (*Config, error) {
	v := viper.New()
	bind := func(key, env string, def any) error {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
		if def != nil {
			v.SetDefault(key, def)
		}
		return nil
	}
	bindings := []struct {
		key, env string
		def      any
	}{
		{"temporal.host_port", EnvHostURL, DefaultHostPort},
		{"temporal.namespace", EnvNamespace, DefaultNamespace},
		{"temporal.task_queue", EnvTaskQueue, DefaultTaskQueue},
		{"temporal.tls_cert", EnvTLSCert, nil},
		{"temporal.tls_key", EnvTLSKey, nil},
		{"telemetry.endpoint", EnvOTLPEndpoint, DefaultTelemetryEndpoint},
		{"telemetry.access_token", EnvAccessToken, nil},
		{"telemetry.resource_attributes", EnvResourceAttributes, nil},
		{"telemetry.environment", EnvEnvironment, DefaultEnvironment},
		{"telemetry.disabled", EnvSDKDisabled, false},
		{"telemetry.traces_exporter", EnvTracesExporter, DefaultTracesExporter},
		{"telemetry.prometheus_addr", EnvPrometheusAddr, nil},
		{"debug", EnvDebug, false},
	}
	for _, b := range bindings {
		if err := bind(b.key, b.env, b.def); err != nil {
			return nil, err
		}
	}

	disabled, err := parseBool(v, "telemetry.disabled", EnvSDKDisabled)
	if err != nil {
		return nil, err
	}
	debug, err := parseBool(v, "debug", EnvDebug)
	if err != nil {
		return nil, err
	}

	attrs := ParseResourceAttributes(v.GetString("telemetry.resource_attributes"))
	serviceName := DefaultServiceName
	if name := attrs[AttributeServiceName]; name != "" {
		serviceName = name
	}
	environment := strings.TrimSpace(v.GetString("telemetry.environment"))
	if env := attrs[AttributeEnvironment]; env != "" {
		environment = env
	}

	return &Config{
		Temporal: Temporal{
			HostPort:    strings.TrimSpace(v.GetString("temporal.host_port")),
			Namespace:   strings.TrimSpace(v.GetString("temporal.namespace")),
			TaskQueue:   strings.TrimSpace(v.GetString("temporal.task_queue")),
			TLSCertPath: strings.TrimSpace(v.GetString("temporal.tls_cert")),
			TLSKeyPath:  strings.TrimSpace(v.GetString("temporal.tls_key")),
		},
		Telemetry: Telemetry{
			Disabled:           disabled,
			Endpoint:           strings.TrimSpace(v.GetString("telemetry.endpoint")),
			AccessToken:        strings.TrimSpace(v.GetString("telemetry.access_token")),
			TracesExporter:     strings.ToLower(strings.TrimSpace(v.GetString("telemetry.traces_exporter"))),
			PrometheusAddr:     strings.TrimSpace(v.GetString("telemetry.prometheus_addr")),
			ServiceName:        serviceName,
			Environment:        environment,
			ResourceAttributes: attrs,
		},
		Debug: debug,
	}, nil
}

// Default returns the local development configuration, identical to what
// Load returns with an empty environment.
func Default() *Config {
	return &Config{
		Temporal: Temporal{
			HostPort:  DefaultHostPort,
			Namespace: DefaultNamespace,
			TaskQueue: DefaultTaskQueue,
		},
		Telemetry: Telemetry{
			Endpoint:           DefaultTelemetryEndpoint,
			TracesExporter:     DefaultTracesExporter,
			ServiceName:        DefaultServiceName,
			Environment:        DefaultEnvironment,
			ResourceAttributes: map[string]string{},
		},
	}
}

func parseBool(v *viper.Viper, key, env string) (bool, error) {
	raw := strings.TrimSpace(v.GetString(key))
	switch strings.ToLower(raw) {
	case "", "0", "false", "no", "off":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	default:
		return false, &ConfigurationError{Field: env, Reason: fmt.Sprintf("invalid boolean %q", raw)}
	}
}
