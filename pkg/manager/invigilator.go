package manager

import (
	"crypto/ed25519"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maidsafe/vault-mgr/pkg/log"
	"github.com/maidsafe/vault-mgr/pkg/metrics"
	"github.com/maidsafe/vault-mgr/pkg/security"
	"github.com/maidsafe/vault-mgr/pkg/storage"
	"github.com/maidsafe/vault-mgr/pkg/transport"
	"github.com/maidsafe/vault-mgr/pkg/types"
	"github.com/maidsafe/vault-mgr/pkg/vaulterrors"
	"github.com/maidsafe/vault-mgr/pkg/wire"
)

// Restart backoff bounds for §4.7 step 7.
const (
	defaultRestartBackoffBase = 1 * time.Second
	defaultRestartBackoffCap  = 60 * time.Second
	defaultMaxRestarts        = 5

	defaultUpdateInterval = 1 * time.Hour
	minUpdateInterval     = 1 * time.Minute
	maxUpdateInterval     = 24 * time.Hour

	shutdownAckTimeout = 10 * time.Second
)

// Config configures an Invigilator.
type Config struct {
	MinPort        int
	MaxPort        int
	VaultBinary    string
	BootstrapNodes []string
	DataDir        string
}

type pendingVault struct {
	processIndex uint32
	accountName  string
	keys         *types.VaultKeys
	clientConn   *transport.Connection
	cmd          *exec.Cmd
	createdAt    time.Time
	restartCount int
}

type runningVault struct {
	processIndex    uint32
	accountName     string
	keys            *types.VaultKeys
	clientConn      *transport.Connection
	cmd             *exec.Cmd
	listeningPort   int
	joinConfirmed   bool
	shutdownRequest bool
	restartCount    int
	identifiedAt    time.Time
}

// Invigilator is C7: the long-lived supervisor that binds a loopback
// listener, authenticates clients via ClientConnections, spawns vault
// worker processes on request, and relays their lifecycle back to the
// client that started them.
type Invigilator struct {
	cfg       Config
	transport *transport.Transport
	conns     *ClientConnections
	store     storage.Store

	nextProcessIndex uint32

	mu             sync.Mutex
	pending        map[uint32]*pendingVault // awaiting VaultIdentityRequest
	running        map[uint32]*runningVault // identified via VaultIdentityRequest; join may still be pending
	workerConns    map[uint32]*transport.Connection
	updateInterval time.Duration

	updateTicker *time.Ticker
	stopUpdate   chan struct{}
}

// NewInvigilator binds a listener in [cfg.MinPort, cfg.MaxPort] and
// returns a ready-to-run Invigilator. Start must be called to begin
// the periodic update-interval check loop.
func NewInvigilator(cfg Config, store storage.Store) (*Invigilator, error) {
	m := &Invigilator{
		cfg:            cfg,
		conns:          NewClientConnections(),
		store:          store,
		pending:        make(map[uint32]*pendingVault),
		running:        make(map[uint32]*runningVault),
		workerConns:    make(map[uint32]*transport.Connection),
		updateInterval: defaultUpdateInterval,
		stopUpdate:     make(chan struct{}),
	}

	t, err := transport.ListenRange(cfg.MinPort, cfg.MaxPort, m.onMessage, m.onConnectionClosed)
	if err != nil {
		return nil, fmt.Errorf("invigilator: %w", err)
	}
	m.transport = t
	return m, nil
}

// Port returns the bound listener's port; clients scan [MinPort,
// MaxPort] to find it.
func (m *Invigilator) Port() int { return m.transport.Port() }

// Start begins the periodic version-check loop (§4.7 step 8).
func (m *Invigilator) Start() {
	m.updateTicker = time.NewTicker(m.updateInterval)
	go func() {
		for {
			select {
			case <-m.updateTicker.C:
				m.checkForNewVersion()
			case <-m.stopUpdate:
				return
			}
		}
	}()
}

// Shutdown stops the update loop and closes the listener.
func (m *Invigilator) Shutdown() {
	close(m.stopUpdate)
	if m.updateTicker != nil {
		m.updateTicker.Stop()
	}
	m.transport.Close()
}

func (m *Invigilator) onMessage(conn *transport.Connection, payload []byte) {
	env, err := wire.Decode(payload)
	if err != nil {
		logger := log.WithComponent("invigilator")
		logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch env.Type {
	case wire.TypeClientRegistrationRequest:
		m.handleClientRegistration(conn)
	case wire.TypeValidateConnectionRequest:
		m.handleValidateConnection(conn, env)
	case wire.TypeStartVaultRequest:
		m.handleStartVault(conn, env)
	case wire.TypeStopVaultRequest:
		m.handleStopVault(conn, env)
	case wire.TypeUpdateIntervalRequest:
		m.handleUpdateInterval(conn, env)
	case wire.TypeVaultIdentityRequest:
		m.handleVaultIdentityRequest(conn, env)
	case wire.TypeVaultJoinedNetwork:
		m.handleVaultJoinedNetwork(conn, env)
	case wire.TypeNewVersionAvailableAck:
		// informational; nothing to reconcile.
	default:
		logger := log.WithComponent("invigilator")
		logger.Warn().Str("type", env.Type.String()).Msg("unhandled message type")
	}
}

func (m *Invigilator) onConnectionClosed(conn *transport.Connection, err error) {
	m.conns.Remove(conn)
}

func (m *Invigilator) handleClientRegistration(conn *transport.Connection) {
	challenge, err := m.conns.AddUnvalidated(conn, func(c *transport.Connection) {
		c.Close()
	})
	if err != nil {
		logger := log.WithComponent("invigilator")
		logger.Error().Err(err).Msg("failed to register client")
		return
	}
	transport.SendEnvelope(conn, wire.TypeClientRegistrationResponse, wire.ClientRegistrationResponse{Challenge: challenge})
}

func (m *Invigilator) handleValidateConnection(conn *transport.Connection, env wire.Envelope) {
	var req wire.ValidateConnectionRequest
	if err := wire.DecodeBody(env, &req); err != nil {
		return
	}
	identity := accountNameFromKey(req.PublicKey)
	err := m.conns.Validate(conn, identity, req.PublicKey, req.Signature)
	resp := wire.ValidateConnectionResponse{Validated: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	transport.SendEnvelope(conn, wire.TypeValidateConnectionResponse, resp)
}

func (m *Invigilator) handleStartVault(conn *transport.Connection, env wire.Envelope) {
	if _, err := m.conns.FindValidated(conn); err != nil {
		transport.SendEnvelope(conn, wire.TypeStartVaultResponse, wire.StartVaultResponse{Error: err.Error()})
		return
	}

	var req wire.StartVaultRequest
	if err := wire.DecodeBody(env, &req); err != nil {
		transport.SendEnvelope(conn, wire.TypeStartVaultResponse, wire.StartVaultResponse{Error: err.Error()})
		return
	}

	keys, err := security.GenerateVaultKeys()
	if err != nil {
		transport.SendEnvelope(conn, wire.TypeStartVaultResponse, wire.StartVaultResponse{Error: err.Error()})
		return
	}

	processIndex := atomic.AddUint32(&m.nextProcessIndex, 1)

	cmd, err := m.spawnVaultWorker(processIndex)
	if err != nil {
		transport.SendEnvelope(conn, wire.TypeStartVaultResponse, wire.StartVaultResponse{Error: err.Error()})
		return
	}

	pv := &pendingVault{
		processIndex: processIndex,
		accountName:  req.AccountName,
		keys:         keys,
		clientConn:   conn,
		cmd:          cmd,
		createdAt:    time.Now(),
	}

	m.mu.Lock()
	m.pending[processIndex] = pv
	m.mu.Unlock()

	m.persistRecord(&types.VaultRecord{
		ProcessIndex: processIndex,
		AccountName:  req.AccountName,
		Keys:         keys,
		Status:       types.VaultStatusPending,
		CreatedAt:    pv.createdAt,
		UpdatedAt:    pv.createdAt,
	})

	go m.superviseWorker(processIndex, cmd)
}

// spawnVaultWorker launches the vault binary with its invigilator
// identifier (§6 CLI surface: --invigilator_identifier port:index).
func (m *Invigilator) spawnVaultWorker(processIndex uint32) (*exec.Cmd, error) {
	identifier := fmt.Sprintf("%d:%d", m.Port(), processIndex)
	cmd := exec.Command(m.cfg.VaultBinary, "--invigilator_identifier", identifier)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("invigilator: spawn vault worker: %w", err)
	}
	return cmd, nil
}

// superviseWorker waits on the spawned process and applies the
// restart-with-backoff policy on unexpected exit (§4.7 step 7).
func (m *Invigilator) superviseWorker(processIndex uint32, cmd *exec.Cmd) {
	err := cmd.Wait()

	m.mu.Lock()
	rv, running := m.running[processIndex]
	m.mu.Unlock()

	if !running {
		// still pending (never got past VaultIdentityRequest); treat as failure.
		m.failPending(processIndex, err)
		return
	}
	if rv.shutdownRequest {
		return
	}

	m.restartWithBackoff(processIndex, rv)
}

func (m *Invigilator) restartWithBackoff(processIndex uint32, rv *runningVault) {
	if rv.restartCount >= defaultMaxRestarts {
		m.mu.Lock()
		rv.shutdownRequest = true
		m.mu.Unlock()
		m.persistRecord(&types.VaultRecord{ProcessIndex: processIndex, AccountName: rv.accountName, Keys: rv.keys, Status: types.VaultStatusFailed, UpdatedAt: time.Now()})
		if rv.clientConn != nil {
			transport.SendEnvelope(rv.clientConn, wire.TypeVaultJoinConfirmation, wire.VaultJoinConfirmation{ProcessIndex: processIndex, PublicKey: rv.keys.PublicKey, Joined: false})
		}
		return
	}

	backoff := defaultRestartBackoffBase << uint(rv.restartCount)
	if backoff > defaultRestartBackoffCap {
		backoff = defaultRestartBackoffCap
	}
	rv.restartCount++

	time.Sleep(backoff)

	cmd, err := m.spawnVaultWorker(processIndex)
	if err != nil {
		logger := log.WithComponent("invigilator")
		logger.Error().Err(err).Uint32("process_index", processIndex).Msg("failed to respawn vault worker")
		return
	}

	m.mu.Lock()
	rv.cmd = cmd
	delete(m.running, processIndex)
	m.pending[processIndex] = &pendingVault{processIndex: processIndex, accountName: rv.accountName, keys: rv.keys, clientConn: rv.clientConn, cmd: cmd, createdAt: time.Now(), restartCount: rv.restartCount}
	m.mu.Unlock()

	go m.superviseWorker(processIndex, cmd)
}

func (m *Invigilator) failPending(processIndex uint32, cause error) {
	m.mu.Lock()
	pv, ok := m.pending[processIndex]
	if ok {
		delete(m.pending, processIndex)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	logger := log.WithComponent("invigilator")
	logger.Error().Err(cause).Uint32("process_index", processIndex).Msg("vault worker exited before identity handshake")
	if pv.clientConn != nil {
		transport.SendEnvelope(pv.clientConn, wire.TypeStartVaultResponse, wire.StartVaultResponse{ProcessIndex: processIndex, Error: "vault worker exited before identity handshake"})
	}
}

func (m *Invigilator) handleVaultIdentityRequest(conn *transport.Connection, env wire.Envelope) {
	var req wire.VaultIdentityRequest
	if err := wire.DecodeBody(env, &req); err != nil {
		return
	}

	identifiedAt := time.Now()
	m.mu.Lock()
	pv, ok := m.pending[req.ProcessIndex]
	if ok {
		delete(m.pending, req.ProcessIndex)
		m.running[req.ProcessIndex] = &runningVault{
			processIndex:  req.ProcessIndex,
			accountName:   pv.accountName,
			keys:          pv.keys,
			clientConn:    pv.clientConn,
			cmd:           pv.cmd,
			listeningPort: req.ListeningPort,
			restartCount:  pv.restartCount,
			identifiedAt:  identifiedAt,
		}
		m.workerConns[req.ProcessIndex] = conn
	}
	m.mu.Unlock()

	if !ok {
		transport.SendEnvelope(conn, wire.TypeVaultIdentityResponse, wire.VaultIdentityResponse{Error: "unknown process index"})
		return
	}

	metrics.VaultStartDuration.Observe(identifiedAt.Sub(pv.createdAt).Seconds())

	m.persistRecord(&types.VaultRecord{
		ProcessIndex:  req.ProcessIndex,
		AccountName:   pv.accountName,
		Keys:          pv.keys,
		ListeningPort: req.ListeningPort,
		Status:        types.VaultStatusJoining,
		UpdatedAt:     time.Now(),
	})

	transport.SendEnvelope(conn, wire.TypeVaultIdentityResponse, wire.VaultIdentityResponse{
		Keys:           pv.keys,
		AccountName:    pv.accountName,
		BootstrapNodes: m.cfg.BootstrapNodes,
	})
}

func (m *Invigilator) handleVaultJoinedNetwork(conn *transport.Connection, env wire.Envelope) {
	var req wire.VaultJoinedNetwork
	if err := wire.DecodeBody(env, &req); err != nil {
		return
	}

	transport.SendEnvelope(conn, wire.TypeVaultJoinedNetworkAck, wire.VaultJoinedNetworkAck{})

	m.mu.Lock()
	rv, ok := m.running[req.ProcessIndex]
	if ok {
		rv.joinConfirmed = req.Joined
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if req.Joined && !rv.identifiedAt.IsZero() {
		metrics.VaultJoinDuration.Observe(time.Since(rv.identifiedAt).Seconds())
	}

	status := types.VaultStatusRunning
	if !req.Joined {
		status = types.VaultStatusFailed
	}
	m.persistRecord(&types.VaultRecord{
		ProcessIndex:  req.ProcessIndex,
		AccountName:   rv.accountName,
		Keys:          rv.keys,
		ListeningPort: rv.listeningPort,
		Status:        status,
		JoinConfirmed: req.Joined,
		UpdatedAt:     time.Now(),
	})

	if rv.clientConn != nil {
		transport.SendEnvelope(rv.clientConn, wire.TypeVaultJoinConfirmation, wire.VaultJoinConfirmation{
			ProcessIndex: req.ProcessIndex,
			PublicKey:    rv.keys.PublicKey,
			Joined:       req.Joined,
		})
	}
}

func (m *Invigilator) handleStopVault(conn *transport.Connection, env wire.Envelope) {
	if _, err := m.conns.FindValidated(conn); err != nil {
		transport.SendEnvelope(conn, wire.TypeStopVaultResponse, wire.StopVaultResponse{Error: err.Error()})
		return
	}

	var req wire.StopVaultRequest
	if err := wire.DecodeBody(env, &req); err != nil {
		transport.SendEnvelope(conn, wire.TypeStopVaultResponse, wire.StopVaultResponse{Error: err.Error()})
		return
	}

	m.mu.Lock()
	rv, ok := m.running[req.ProcessIndex]
	m.mu.Unlock()
	if !ok {
		err := vaulterrors.New("Invigilator.StopVault", vaulterrors.KindNotFound)
		transport.SendEnvelope(conn, wire.TypeStopVaultResponse, wire.StopVaultResponse{Error: err.Error()})
		return
	}

	if !security.Verify(rv.keys.PublicKey, req.Blob, req.Signature) {
		err := vaulterrors.New("Invigilator.StopVault", vaulterrors.KindInvalidSignature)
		transport.SendEnvelope(conn, wire.TypeStopVaultResponse, wire.StopVaultResponse{Error: err.Error()})
		return
	}

	m.mu.Lock()
	rv.shutdownRequest = true
	m.mu.Unlock()

	// Dialing and waiting for the ack happen off the transport's single
	// dispatch goroutine: blocking it for up to shutdownAckTimeout would
	// stall every other connection this Invigilator owns.
	go func() {
		stopped := m.requestWorkerShutdown(rv)
		m.persistRecord(&types.VaultRecord{ProcessIndex: req.ProcessIndex, AccountName: rv.accountName, Keys: rv.keys, Status: types.VaultStatusStopped, ShutdownRequested: true, UpdatedAt: time.Now()})
		transport.SendEnvelope(conn, wire.TypeStopVaultResponse, wire.StopVaultResponse{Stopped: stopped})
	}()
}

// requestWorkerShutdown opens a fresh transport to the worker's own
// listening port (§4.7 step 6), sends VaultShutdownRequest, and waits
// up to shutdownAckTimeout for the ack; on timeout it kills the
// process outright.
func (m *Invigilator) requestWorkerShutdown(rv *runningVault) bool {
	if rv.listeningPort == 0 {
		return false
	}

	acked := make(chan struct{}, 1)
	dialer, err := transport.Listen(0, func(conn *transport.Connection, payload []byte) {
		env, err := wire.Decode(payload)
		if err == nil && env.Type == wire.TypeVaultShutdownResponse {
			select {
			case acked <- struct{}{}:
			default:
			}
		}
	}, nil)
	if err != nil {
		logger := log.WithComponent("invigilator")
		logger.Error().Err(err).Msg("failed to open shutdown transport")
		return false
	}
	defer dialer.Close()

	conn, err := dialer.Dial(rv.listeningPort)
	if err != nil {
		logger := log.WithComponent("invigilator")
		logger.Error().Err(err).Int("port", rv.listeningPort).Msg("failed to dial worker for shutdown")
		return false
	}
	if err := transport.SendEnvelope(conn, wire.TypeVaultShutdownRequest, wire.VaultShutdownRequest{}); err != nil {
		return false
	}

	select {
	case <-acked:
		return true
	case <-time.After(shutdownAckTimeout):
		if rv.cmd != nil && rv.cmd.Process != nil {
			rv.cmd.Process.Kill()
		}
		return false
	}
}

func (m *Invigilator) handleUpdateInterval(conn *transport.Connection, env wire.Envelope) {
	var req wire.UpdateIntervalRequest
	if err := wire.DecodeBody(env, &req); err != nil {
		transport.SendEnvelope(conn, wire.TypeUpdateIntervalResponse, wire.UpdateIntervalResponse{IntervalSeconds: 0})
		return
	}

	if req.Set {
		requested := time.Duration(req.IntervalSeconds) * time.Second
		if requested < minUpdateInterval || requested > maxUpdateInterval {
			transport.SendEnvelope(conn, wire.TypeUpdateIntervalResponse, wire.UpdateIntervalResponse{IntervalSeconds: 0})
			return
		}
		m.mu.Lock()
		m.updateInterval = requested
		m.mu.Unlock()
		if m.updateTicker != nil {
			m.updateTicker.Reset(requested)
		}
	}

	m.mu.Lock()
	current := m.updateInterval
	m.mu.Unlock()
	transport.SendEnvelope(conn, wire.TypeUpdateIntervalResponse, wire.UpdateIntervalResponse{IntervalSeconds: uint32(current.Seconds())})
}

// checkForNewVersion is the periodic step 8 poll; a staged
// "<VaultBinary>.new" file is treated as "a new version appeared" since
// there is no external package registry in this module's scope.
func (m *Invigilator) checkForNewVersion() {
	newPath, found := detectNewVaultBinary(m.cfg.VaultBinary)
	if !found {
		return
	}
	for _, conn := range m.conns.ValidatedConnections() {
		transport.SendEnvelope(conn, wire.TypeNewVersionAvailable, wire.NewVersionAvailable{FilePath: newPath})
	}
}

// Stats reports point-in-time counts for pkg/metrics' collector: the
// number of vaults in each lifecycle state, the number of validated
// client connections, and the sum of restart attempts across all
// supervised workers.
type Stats struct {
	Pending          int
	Running          int
	JoinConfirmed    int
	ValidatedClients int
	TotalRestarts    int
}

func (m *Invigilator) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Pending:          len(m.pending),
		Running:          len(m.running),
		ValidatedClients: len(m.conns.ValidatedConnections()),
	}
	for _, rv := range m.running {
		if rv.joinConfirmed {
			s.JoinConfirmed++
		}
		s.TotalRestarts += rv.restartCount
	}
	return s
}

func (m *Invigilator) persistRecord(record *types.VaultRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveVaultRecord(record); err != nil {
		logger := log.WithComponent("invigilator")
		logger.Error().Err(err).Uint32("process_index", record.ProcessIndex).Msg("failed to persist vault record")
	}
}

func accountNameFromKey(pub ed25519.PublicKey) string {
	if len(pub) < 8 {
		return "unknown"
	}
	return fmt.Sprintf("client-%x", pub[:8])
}
