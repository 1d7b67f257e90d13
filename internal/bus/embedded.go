package bus

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/skypro1111/live-caption-service/internal/config"
)

const embeddedStartTimeout = 5 * time.Second

// EmbeddedServer is an in-process NATS server
type EmbeddedServer struct {
	ns     *server.Server
	logger *slog.Logger
}

// StartEmbedded starts an in-process NATS server on cfg.Port. It returns nil
// when the embedded server is disabled. A port of -1 picks a free port.
func StartEmbedded(cfg config.BusConfig, logger *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}

	opts := &server.Options{
		Host:   "0.0.0.0",
		Port:   cfg.Port,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(embeddedStartTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within %v", embeddedStartTimeout)
	}

	e := &EmbeddedServer{ns: ns, logger: logger}
	logger.Info("Embedded NATS server started", slog.String("url", e.ClientURL()))

	return e, nil
}

// ClientURL returns a loopback URL for connecting to the server
func (e *EmbeddedServer) ClientURL() string {
	if addr, ok := e.ns.Addr().(*net.TCPAddr); ok {
		return fmt.Sprintf("nats://127.0.0.1:%d", addr.Port)
	}
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.logger.Info("Shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
