package natsbus

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Bus is the embedded NATS server snapshots and IPC requests travel over.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{
		server: ns,
		cfg:    cfg,
	}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Port returns the port the server listens on, which differs from the
// configured one when a random port was requested.
func (b *Bus) Port() int {
	if addr, ok := b.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return b.cfg.Port
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
