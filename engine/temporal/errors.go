package temporal

import "fmt"

// ConnectionError reports a Temporal frontend that could not be reached or
// rejected the connection (TLS handshake, unknown namespace).
type ConnectionError struct {
	HostPort  string
	Namespace string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to temporal at %s (namespace %q): %v", e.HostPort, e.Namespace, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
