package netif

import (
	"sync"

	"github.com/nerrad567/linkkeeper/internal/connectivity"
)

// DefaultStaticRSSI is the signal level Static reports when associated.
const DefaultStaticRSSI = -40

// Static is a LinkDriver for hosts whose link is managed elsewhere.
// Begin and Disconnect issue nothing. With an empty interface name the
// link is always up.
type Static struct {
	iface string
	sysfs string
	rssi  int

	mu    sync.Mutex
	wasUp bool
}

// NewStatic creates a Static driver observing iface under sysfsRoot.
func NewStatic(iface, sysfsRoot string, rssi int) *Static {
	if sysfsRoot == "" {
		sysfsRoot = DefaultSysfsRoot
	}
	return &Static{iface: iface, sysfs: sysfsRoot, rssi: rssi}
}

func (s *Static) Begin(string, string) error { return nil }

func (s *Static) Disconnect() error { return nil }

func (s *Static) Status() connectivity.LinkStatus {
	if s.iface == "" {
		return connectivity.LinkUp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := readOperstate(s.sysfs, s.iface)
	if err != nil {
		return connectivity.LinkDown
	}
	status := fromOperstate(state, s.wasUp)
	s.wasUp = status == connectivity.LinkUp
	return status
}

func (s *Static) RSSI() int { return s.rssi }

var _ connectivity.LinkDriver = (*Static)(nil)
