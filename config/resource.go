package config

import "strings"

// Resource attribute keys recognized in OTEL_RESOURCE_ATTRIBUTES.
const (
	AttributeServiceName = "service.name"
	// AttributeEnvironment maps to the deployment.environment resource
	// attribute and overrides OTEL_ENVIRONMENT.
	AttributeEnvironment = "environment"
)

// ParseResourceAttributes parses a comma separated list of key=value pairs.
// Keys and values are trimmed. Pairs without "=", with an empty key or with
// an empty value are skipped, as are keys other than service.name and
// environment. When a key repeats the last value wins.
func ParseResourceAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		switch k {
		case AttributeServiceName, AttributeEnvironment:
			attrs[k] = v
		}
	}
	return attrs
}
