package daemon

import (
	"context"
	"strings"
	"sync"

	"log/slog"

	"github.com/pilebones/go-udev/netlink"

	"tarchive/internal/config"
	"tarchive/internal/logging"
)

// changerMonitor watches udev netlink events for the changer device node
// disappearing. Losing the changer while a task holds the drive means the
// library can no longer park the cartridge safely, so the handler
// quarantines the drive instead of letting the next grant fail mid-motion.
type changerMonitor struct {
	logger  *slog.Logger
	handler func(ctx context.Context)
	device  string

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newChangerMonitor(cfg *config.Config, logger *slog.Logger, handler func(ctx context.Context)) *changerMonitor {
	device := strings.TrimSpace(cfg.Library.ChangerDevice)
	if device == "" {
		return nil
	}
	return &changerMonitor{
		logger:  logging.NewComponentLogger(logger, "changer-monitor"),
		handler: handler,
		device:  device,
	}
}

// Start begins listening for udev events. A netlink connection failure is
// non-fatal; the daemon still functions without hotplug detection.
func (m *changerMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("netlink socket unavailable, changer hotplug detection disabled",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run the daemon with privileges to open netlink sockets"))
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("changer monitor started", logging.String("device", m.device))
	return nil
}

// Stop shuts down the monitor.
func (m *changerMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

func (m *changerMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(events, errs, m.buildMatcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error", logging.Error(err))
		}
	}
}

// buildMatcher matches removal of SCSI generic nodes, which is how the
// changer surfaces.
func (m *changerMonitor) buildMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "scsi_generic",
		},
	})
	return rules
}

func (m *changerMonitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	devname := uevent.Env["DEVNAME"]
	if devname == "" {
		return
	}
	if !strings.HasPrefix(devname, "/") {
		devname = "/dev/" + devname
	}
	if devname != m.device {
		return
	}

	m.logger.Error("changer device removed",
		logging.String("device", devname),
		logging.String(logging.FieldErrorHint, "check SAS cabling and library power, then clear the quarantine"))
	if m.handler != nil {
		m.handler(ctx)
	}
}
