// Package policy owns the session to the managed network device and turns
// operator policies into device writes.
package policy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"netguard/internal/client"
	"netguard/internal/model"

	"github.com/gosnmp/gosnmp"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPort                 = 161
	DefaultCommunity            = "public"
	DefaultTimeout              = 2 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 5 * time.Second

	eventSource = "policy"
)

type Config struct {
	Host                 string        `yaml:"host"`
	Port                 uint16        `yaml:"port"`
	Community            string        `yaml:"community"`
	Version              string        `yaml:"version"`
	Transport            string        `yaml:"transport"`
	Timeout              time.Duration `yaml:"timeout"`
	Retries              int           `yaml:"retries"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
}

// StateExhausted is what State reports once the reconnect budget is spent.
const StateExhausted = "exhausted"

type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnecting
	stateConnected
	stateBackoff
	stateExhausted
)

func (s sessionState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateBackoff:
		return "backoff"
	case stateExhausted:
		return StateExhausted
	default:
		return "unknown"
	}
}

// Manager serializes all access to one device session. Connection failures
// are retried on a fixed delay until MaxReconnectAttempts consecutive
// failures, after which a single connection_exhausted event is emitted.
type Manager struct {
	cfg        Config
	newSession SessionFactory
	store      *Store
	emitter    model.Emitter
	metrics    *client.PrometheusMetrics
	logger     *logrus.Logger

	mu       sync.Mutex
	session  Session
	state    sessionState
	failures int
	retry    *time.Timer
}

func NewManager(cfg Config, store *Store, emitter model.Emitter, logger *logrus.Logger) *Manager {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Community == "" {
		cfg.Community = DefaultCommunity
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if store == nil {
		store, _ = OpenStore("")
	}
	if emitter == nil {
		emitter = model.NopEmitter{}
	}

	return &Manager{
		cfg:        cfg,
		newSession: NewSNMPSession,
		store:      store,
		emitter:    emitter,
		logger:     logger,
	}
}

func (m *Manager) SetSessionFactory(f SessionFactory) {
	m.newSession = f
}

func (m *Manager) SetMetrics(metrics *client.PrometheusMetrics) {
	m.metrics = metrics
}

// Connect opens the session and verifies it with a stats read. A failed
// attempt schedules a retry and returns nil; only an exhausted retry budget
// is reported to the caller.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked()
}

func (m *Manager) connectLocked() error {
	switch m.state {
	case stateConnected:
		return nil
	case stateExhausted:
		return ErrConnectionExhausted
	}

	m.stopRetryLocked()
	m.state = stateConnecting

	sess := m.newSession(m.cfg)
	if err := sess.Connect(); err != nil {
		return m.failLocked(fmt.Errorf("failed to open session to %s: %w", m.cfg.Host, err))
	}
	m.session = sess

	if _, err := m.readStatsLocked(); err != nil {
		return m.failLocked(fmt.Errorf("failed to verify session to %s: %w", m.cfg.Host, err))
	}

	m.state = stateConnected
	m.failures = 0
	m.metrics.SetDeviceConnected(true)
	m.logger.Infof("Connected to device %s:%d", m.cfg.Host, m.cfg.Port)
	m.emitter.Emit(model.NewEvent(model.EventDeviceConnected, eventSource,
		fmt.Sprintf("connected to %s:%d", m.cfg.Host, m.cfg.Port)))
	return nil
}

// failLocked counts a failure, drops the session and either schedules the
// next attempt or gives up for good.
func (m *Manager) failLocked(cause error) error {
	m.failures++
	m.closeSessionLocked()
	m.metrics.RecordDeviceConnectFailure()
	m.metrics.SetDeviceConnected(false)

	if m.failures >= m.cfg.MaxReconnectAttempts {
		m.state = stateExhausted
		err := fmt.Errorf("%w after %d attempts: %v", ErrConnectionExhausted, m.failures, cause)
		m.logger.Errorf("Giving up on device %s: %v", m.cfg.Host, err)
		m.emitter.Emit(model.NewErrorEvent(model.EventConnectionExhausted, eventSource,
			"device connection attempts exhausted", err))
		return err
	}

	m.state = stateBackoff
	m.logger.Warnf("Device connection failed (attempt %d/%d), retrying in %s: %v",
		m.failures, m.cfg.MaxReconnectAttempts, m.cfg.ReconnectDelay, cause)
	m.retry = time.AfterFunc(m.cfg.ReconnectDelay, m.retryConnect)
	return nil
}

func (m *Manager) retryConnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateBackoff {
		return
	}
	m.retry = nil
	_ = m.connectLocked()
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) closeSessionLocked() {
	if m.session == nil {
		return
	}
	if err := m.session.Close(); err != nil {
		m.logger.Debugf("Error closing device session: %v", err)
	}
	m.session = nil
}

// GetStats reads the device counters. A read failure counts against the
// reconnect budget and is returned to the caller.
func (m *Manager) GetStats() (model.DeviceStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateConnected {
		return model.DeviceStats{}, ErrNotConnected
	}

	stats, err := m.readStatsLocked()
	if err != nil {
		err = fmt.Errorf("failed to read device stats: %w", err)
		if exhausted := m.failLocked(err); exhausted != nil {
			return model.DeviceStats{}, errors.Join(err, exhausted)
		}
		return model.DeviceStats{}, err
	}
	return stats, nil
}

func (m *Manager) readStatsLocked() (model.DeviceStats, error) {
	packet, err := m.session.Get(statsOIDs)
	if err != nil {
		return model.DeviceStats{}, err
	}
	if packet.Error != gosnmp.NoError {
		return model.DeviceStats{}, fmt.Errorf("device returned error %v at index %d", packet.Error, packet.ErrorIndex)
	}
	return statsFromPDUs(packet.Variables), nil
}

// ApplyPolicy writes every rule to the device in order, one SET per field,
// then persists the policy. The first failed write aborts the call; writes
// already accepted stay on the device.
func (m *Manager) ApplyPolicy(p model.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateConnected {
		return ErrNotConnected
	}
	if p.ID == "" {
		return errors.New("policy id is required")
	}

	log := m.logger.WithField("policy", p.ID)
	written := 0
	for i, rule := range p.Rules {
		for _, pdu := range rulePDUs(p.ID, i, rule) {
			if err := m.setLocked(pdu); err != nil {
				m.metrics.RecordPolicyWrite(false)
				m.metrics.RecordPolicyApplied(string(p.Kind), false)
				log.Warnf("Rule %d write to %s failed: %v", i, pdu.Name, err)
				if written > 0 {
					return &PartialApplyError{PolicyID: p.ID, RuleIndex: i, Written: written, Err: err}
				}
				return fmt.Errorf("failed to apply policy %s rule %d: %w", p.ID, i, err)
			}
			m.metrics.RecordPolicyWrite(true)
			written++
		}
	}

	if err := m.store.Upsert(p); err != nil {
		m.metrics.RecordPolicyApplied(string(p.Kind), false)
		return fmt.Errorf("policy %s applied but not persisted: %w", p.ID, err)
	}
	m.metrics.RecordPolicyApplied(string(p.Kind), true)

	log.Infof("Applied policy %q (%d rules, %d writes)", p.Name, len(p.Rules), written)
	event := model.NewEvent(model.EventPolicyApplied, eventSource, fmt.Sprintf("policy %s applied", p.ID))
	applied := p.Clone()
	event.Policy = &applied
	m.emitter.Emit(event)
	return nil
}

func (m *Manager) setLocked(pdu gosnmp.SnmpPDU) error {
	packet, err := m.session.Set([]gosnmp.SnmpPDU{pdu})
	if err != nil {
		return err
	}
	if packet.Error != gosnmp.NoError {
		return fmt.Errorf("device rejected %s: %v", pdu.Name, packet.Error)
	}
	return nil
}

// Disconnect closes the session and cancels any pending retry. It also
// resets the failure budget, so a later Connect starts fresh.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopRetryLocked()
	wasDisconnected := m.state == stateDisconnected
	m.closeSessionLocked()
	m.state = stateDisconnected
	m.failures = 0

	if wasDisconnected {
		return nil
	}

	m.metrics.SetDeviceConnected(false)
	m.logger.Infof("Disconnected from device %s", m.cfg.Host)
	m.emitter.Emit(model.NewEvent(model.EventDeviceDisconnected, eventSource, "device session closed"))
	return nil
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateConnected
}

// State reports the session state name for status endpoints.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.String()
}

// Policies returns the persisted policy set.
func (m *Manager) Policies() []model.Policy {
	return m.store.List()
}
