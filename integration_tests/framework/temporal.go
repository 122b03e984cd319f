// Package framework starts the external services the integration tests run
// against.
package framework

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// EnvTemporalHostURL points the tests at an already running Temporal
	// frontend instead of starting a container.
	EnvTemporalHostURL = "TEMPORAL_TEST_HOST_URL"

	devServerImage = "temporalio/temporal:latest"
	frontendPort   = "7233/tcp"
)

// DevServer is a Temporal development server reachable at HostPort.
type DevServer struct {
	HostPort  string
	container testcontainers.Container
}

// StartDevServer returns the server named by TEMPORAL_TEST_HOST_URL or
// starts a temporalio/temporal container running "server start-dev".
// It returns an error when Docker is not available.
func StartDevServer(ctx context.Context) (srv *DevServer, err error) {
	if external := strings.TrimSpace(os.Getenv(EnvTemporalHostURL)); external != "" {
		return &DevServer{HostPort: external}, nil
	}

	// testcontainers panics when no Docker daemon can be found.
	defer func() {
		if r := recover(); r != nil {
			srv, err = nil, fmt.Errorf("docker not available: %v", r)
		}
	}()
	req := testcontainers.ContainerRequest{
		Image:        devServerImage,
		Cmd:          []string{"server", "start-dev", "--ip", "0.0.0.0", "--headless"},
		ExposedPorts: []string{frontendPort},
		WaitingFor:   wait.ForListeningPort(frontendPort).WithStartupTimeout(2 * time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start temporal dev server: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, frontendPort)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("get container port: %w", err)
	}
	return &DevServer{HostPort: net.JoinHostPort(host, port.Port()), container: container}, nil
}

// Stop terminates the container, if one was started.
func (s *DevServer) Stop(ctx context.Context) error {
	if s == nil || s.container == nil {
		return nil
	}
	return s.container.Terminate(ctx)
}
