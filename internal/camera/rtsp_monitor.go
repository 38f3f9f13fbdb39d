// Package camera watches upstream camera streams.
package camera

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/service"
)

// RTSPMonitor keeps an RTSP session open and tracks whether RTP packets are
// still arriving. It does not decode video; frame pulls go through ffmpeg.
type RTSPMonitor struct {
	*service.ServiceBase

	url               string
	username          string
	password          string
	timeout           time.Duration
	stallTimeout      time.Duration
	reconnectInterval time.Duration
	now               func() time.Time

	mu         sync.RWMutex
	client     *gortsplib.Client
	connected  bool
	lastPacket time.Time
	packets    uint64
	lost       uint64
	lastSeq    uint16
	haveSeq    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// RTSPMonitorConfig contains RTSP monitor configuration
type RTSPMonitorConfig struct {
	URL               string
	Username          string
	Password          string
	Timeout           time.Duration
	StallTimeout      time.Duration
	ReconnectInterval time.Duration
}

// StreamStats is a point-in-time view of the monitored stream
type StreamStats struct {
	Connected  bool      `json:"connected"`
	Healthy    bool      `json:"healthy"`
	Packets    uint64    `json:"packets"`
	Lost       uint64    `json:"lost"`
	LastPacket time.Time `json:"last_packet"`
}

// NewRTSPMonitor creates a new RTSP liveness monitor
func NewRTSPMonitor(config RTSPMonitorConfig, log *logger.Logger) *RTSPMonitor {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.StallTimeout == 0 {
		config.StallTimeout = 5 * time.Second
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = 10 * time.Second
	}
	return &RTSPMonitor{
		ServiceBase:       service.NewServiceBase("rtsp-monitor", log),
		url:               config.URL,
		username:          config.Username,
		password:          config.Password,
		timeout:           config.Timeout,
		stallTimeout:      config.StallTimeout,
		reconnectInterval: config.ReconnectInterval,
		now:               time.Now,
	}
}

// Start starts the connection loop
func (m *RTSPMonitor) Start(ctx context.Context) error {
	if _, err := base.ParseURL(m.url); err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	m.LogInfo("Starting RTSP monitor", "url", redact(m.url))
	go m.run(runCtx)
	return nil
}

// Stop closes the session and waits for the loop to exit
func (m *RTSPMonitor) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.GetStatus().SetStatus(service.StatusStopping)
	m.cancel()
	m.closeClient()

	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.GetStatus().SetStatus(service.StatusStopped)
	m.LogInfo("RTSP monitor stopped", "url", redact(m.url))
	return nil
}

func (m *RTSPMonitor) run(ctx context.Context) {
	defer close(m.done)
	for {
		err := m.session(ctx)
		m.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.LogWarn("RTSP session ended", "url", redact(m.url), "error", err)
			m.PublishEvent(service.EventTypeSourceDisconnected, map[string]interface{}{
				"url":    redact(m.url),
				"reason": err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.reconnectInterval):
		}
	}
}

// session connects, plays, and blocks until the session ends.
func (m *RTSPMonitor) session(ctx context.Context) error {
	u, err := base.ParseURL(m.url)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if m.username != "" && m.password != "" && u.User == nil {
		u.User = url.UserPassword(m.username, m.password)
	}

	client := &gortsplib.Client{
		ReadTimeout:  m.timeout,
		WriteTimeout: m.timeout,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		client.Close()
		return nil
	}
	m.client = client
	m.mu.Unlock()
	defer m.closeClient()

	desc, _, err := client.Describe(u)
	if err != nil {
		return fmt.Errorf("failed to describe stream: %w", err)
	}
	if len(desc.Medias) == 0 {
		return fmt.Errorf("stream has no media")
	}
	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return fmt.Errorf("failed to setup stream: %w", err)
	}

	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		m.recordPacket(pkt)
	})

	if _, err := client.Play(nil); err != nil {
		return fmt.Errorf("failed to play stream: %w", err)
	}

	m.setConnected(true)
	m.LogInfo("RTSP stream connected", "url", redact(m.url), "medias", len(desc.Medias))
	m.PublishEvent(service.EventTypeSourceConnected, map[string]interface{}{
		"url": redact(m.url),
	})

	return client.Wait()
}

func (m *RTSPMonitor) closeClient() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

func (m *RTSPMonitor) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	if !v {
		m.haveSeq = false
	}
	m.mu.Unlock()
}

// recordPacket counts a packet and any sequence gap before it.
func (m *RTSPMonitor) recordPacket(pkt *rtp.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.packets++
	m.lastPacket = m.now()
	if m.haveSeq {
		gap := pkt.SequenceNumber - m.lastSeq // wraps at 65535
		if gap > 1 && gap < 1<<15 {
			m.lost += uint64(gap - 1)
		}
	}
	m.lastSeq = pkt.SequenceNumber
	m.haveSeq = true
}

// Healthy reports whether the session is up and a packet arrived within the
// stall timeout.
func (m *RTSPMonitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && !m.lastPacket.IsZero() && m.now().Sub(m.lastPacket) <= m.stallTimeout
}

// IsConnected returns whether the session is playing
func (m *RTSPMonitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Stats returns packet counters
func (m *RTSPMonitor) Stats() StreamStats {
	m.mu.RLock()
	s := StreamStats{
		Connected:  m.connected,
		Packets:    m.packets,
		Lost:       m.lost,
		LastPacket: m.lastPacket,
	}
	m.mu.RUnlock()
	s.Healthy = m.Healthy()
	return s
}

// redact drops credentials from a stream URL for logging
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("***")
	return u.String()
}
