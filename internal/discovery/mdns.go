// ABOUTME: mDNS advertisement for network sinks
// ABOUTME: Publishes the broadcast endpoint so listeners can find it
package discovery

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/hashicorp/mdns"
)

// DefaultServiceType is advertised when Config leaves it empty
const DefaultServiceType = "_pcmstream._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	ServiceType string
	Port        int
	Path        string // websocket path, published as a TXT record
}

// Manager handles mDNS operations
type Manager struct {
	config Config

	mu     sync.Mutex
	server *mdns.Server
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.ServiceType == "" {
		config.ServiceType = DefaultServiceType
	}
	return &Manager{config: config}
}

// ServiceType returns the advertised service type
func (m *Manager) ServiceType() string {
	return m.config.ServiceType
}

// TXT returns the TXT records published with the service
func (m *Manager) TXT() []string {
	var txt []string
	if m.config.Path != "" {
		txt = append(txt, "path="+m.config.Path)
	}
	return txt
}

// Advertise starts answering mDNS queries for the service
func (m *Manager) Advertise() error {
	if m.config.Port <= 0 {
		return fmt.Errorf("invalid port %d", m.config.Port)
	}

	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		m.config.ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.TXT(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, m.config.ServiceType)
	return nil
}

// Stop withdraws the advertisement
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		if err := m.server.Shutdown(); err != nil {
			log.Printf("mDNS shutdown error: %v", err)
		}
		m.server = nil
	}
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
