package xplane

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Default beacon multicast group the simulator announces itself on.
const (
	DefaultBeaconGroup = "239.255.1.1"
	DefaultBeaconPort  = 49707

	beaconReadTimeout = 3 * time.Second
)

// Beacon discovers a running simulator instance by listening for its
// multicast announcement and returns the address of its UDP data port.
type Beacon struct {
	group  string
	port   int
	logger *slog.Logger
}

// NewBeacon creates a beacon listener for the given multicast group and
// port. Zero values select the defaults.
func NewBeacon(group string, port int, logger *slog.Logger) *Beacon {
	if group == "" {
		group = DefaultBeaconGroup
	}
	if port == 0 {
		port = DefaultBeaconPort
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Beacon{
		group:  group,
		port:   port,
		logger: logger.With("component", "beacon"),
	}
}

// Locate blocks until a usable beacon is received or the context is done.
// The returned address combines the announcing host's IP with the data port
// carried in the beacon payload.
func (b *Beacon) Locate(ctx context.Context) (*net.UDPAddr, error) {
	group := net.ParseIP(b.group)
	if group == nil {
		return nil, fmt.Errorf("beacon: invalid multicast group %q", b.group)
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: group, Port: b.port})
	if err != nil {
		return nil, fmt.Errorf("beacon: multicast listen failed: %w", err)
	}
	defer conn.Close()

	// Unblock the read promptly when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, maxPacketLen)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(beaconReadTimeout)); err != nil {
			return nil, fmt.Errorf("beacon: deadline set failed: %w", err)
		}

		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, fmt.Errorf("beacon: read failed: %w", err)
		}

		info, err := decodeBeacon(buf[:n])
		if err != nil {
			b.logger.Debug("ignoring non-beacon packet", "from", src, "error", err)
			continue
		}
		if !info.usable() {
			b.logger.Debug("ignoring incompatible beacon",
				"from", src, "major", info.Major, "minor", info.Minor, "host_id", info.HostID)
			continue
		}

		b.logger.Info("simulator located",
			"host", info.Hostname, "addr", src.IP, "port", info.Port, "version", info.Version)
		return &net.UDPAddr{IP: src.IP, Port: int(info.Port)}, nil
	}
}
