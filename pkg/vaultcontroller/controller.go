// Package vaultcontroller implements VaultController (C8): the piece
// linked into every vault worker process that talks back to the
// Invigilator that spawned it. It resolves its own process index and
// the manager's port from the --invigilator_identifier CLI argument,
// fetches its Ed25519 identity over a fresh connection, and reports
// join status and shutdown acknowledgement back to the manager.
package vaultcontroller

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maidsafe/vault-mgr/pkg/log"
	"github.com/maidsafe/vault-mgr/pkg/transport"
	"github.com/maidsafe/vault-mgr/pkg/types"
	"github.com/maidsafe/vault-mgr/pkg/wire"
)

// identityTimeout bounds how long Start blocks waiting for the
// manager's VaultIdentityResponse (§4.8 step 3).
const identityTimeout = 10 * time.Second

// ParseInvigilatorIdentifier parses the "port:process_index" CLI
// argument into its two components.
func ParseInvigilatorIdentifier(identifier string) (port int, processIndex uint32, err error) {
	parts := strings.SplitN(identifier, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("vaultcontroller: malformed invigilator identifier %q", identifier)
	}
	p, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("vaultcontroller: bad port in identifier %q: %w", identifier, err)
	}
	idx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("vaultcontroller: bad process index in identifier %q: %w", identifier, err)
	}
	return p, uint32(idx), nil
}

type identityResult struct {
	keys           *types.VaultKeys
	accountName    string
	bootstrapNodes []string
	err            error
}

// Controller is C8, one instance per vault worker process.
type Controller struct {
	invigilatorPort int
	processIndex    uint32

	transport    *transport.Transport
	managerConn  *transport.Connection
	stopCallback func()

	identityOnce   sync.Once
	identityReady  chan struct{}
	identityResult identityResult
}

// New constructs a Controller from the worker's CLI identifier
// argument; call Start to begin the handshake.
func New(invigilatorIdentifier string) (*Controller, error) {
	port, processIndex, err := ParseInvigilatorIdentifier(invigilatorIdentifier)
	if err != nil {
		return nil, err
	}
	return &Controller{
		invigilatorPort: port,
		processIndex:    processIndex,
		identityReady:   make(chan struct{}),
	}, nil
}

// Start runs §4.8 steps 2-4: bind an ephemeral listener, connect to
// the manager, send VaultIdentityRequest, and block until the
// manager's response arrives or identityTimeout elapses. stopCb is
// invoked when the manager later sends VaultShutdownRequest.
func (c *Controller) Start(stopCb func()) error {
	c.stopCallback = stopCb

	t, err := transport.Listen(0, c.onMessage, c.onConnectionClosed)
	if err != nil {
		return fmt.Errorf("vaultcontroller: bind listener: %w", err)
	}
	c.transport = t

	conn, err := t.Dial(c.invigilatorPort)
	if err != nil {
		t.Close()
		return fmt.Errorf("vaultcontroller: connect to invigilator: %w", err)
	}
	c.managerConn = conn

	if err := transport.SendEnvelope(conn, wire.TypeVaultIdentityRequest, wire.VaultIdentityRequest{
		ProcessIndex:  c.processIndex,
		ListeningPort: t.Port(),
	}); err != nil {
		return fmt.Errorf("vaultcontroller: send identity request: %w", err)
	}

	select {
	case <-c.identityReady:
	case <-time.After(identityTimeout):
		return fmt.Errorf("vaultcontroller: timed out waiting for identity")
	}

	if c.identityResult.err != nil {
		return c.identityResult.err
	}
	return nil
}

func (c *Controller) onMessage(conn *transport.Connection, payload []byte) {
	env, err := wire.Decode(payload)
	if err != nil {
		logger := log.WithComponent("vaultcontroller")
		logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch env.Type {
	case wire.TypeVaultIdentityResponse:
		c.handleIdentityResponse(env)
	case wire.TypeVaultJoinedNetworkAck:
		// nothing to do; ConfirmJoin doesn't block on it.
	case wire.TypeVaultShutdownRequest:
		transport.SendEnvelope(conn, wire.TypeVaultShutdownResponse, wire.VaultShutdownResponse{})
		if c.stopCallback != nil {
			c.stopCallback()
		}
	default:
		logger := log.WithComponent("vaultcontroller")
		logger.Warn().Str("type", env.Type.String()).Msg("unhandled message type")
	}
}

func (c *Controller) onConnectionClosed(conn *transport.Connection, err error) {
	c.identityOnce.Do(func() {
		c.identityResult = identityResult{err: fmt.Errorf("vaultcontroller: connection to invigilator closed: %w", err)}
		close(c.identityReady)
	})
}

func (c *Controller) handleIdentityResponse(env wire.Envelope) {
	var resp wire.VaultIdentityResponse
	if err := wire.DecodeBody(env, &resp); err != nil {
		c.identityOnce.Do(func() {
			c.identityResult = identityResult{err: err}
			close(c.identityReady)
		})
		return
	}

	c.identityOnce.Do(func() {
		if resp.Error != "" {
			c.identityResult = identityResult{err: fmt.Errorf("vaultcontroller: %s", resp.Error)}
		} else {
			c.identityResult = identityResult{keys: resp.Keys, accountName: resp.AccountName, bootstrapNodes: resp.BootstrapNodes}
		}
		close(c.identityReady)
	})
}

// GetIdentity blocks until identity has arrived (or Start already
// returned) and returns the worker's keys and account name.
func (c *Controller) GetIdentity() (*types.VaultKeys, string, error) {
	<-c.identityReady
	if c.identityResult.err != nil {
		return nil, "", c.identityResult.err
	}
	return c.identityResult.keys, c.identityResult.accountName, nil
}

// GetBootstrapNodes blocks until identity has arrived and returns the
// bootstrap node list delivered with it.
func (c *Controller) GetBootstrapNodes() ([]string, error) {
	<-c.identityReady
	if c.identityResult.err != nil {
		return nil, c.identityResult.err
	}
	return c.identityResult.bootstrapNodes, nil
}

// ConfirmJoin reports whether this vault joined the network, per
// §4.8 step 5.
func (c *Controller) ConfirmJoin(joined bool) error {
	<-c.identityReady
	if c.identityResult.err != nil {
		return c.identityResult.err
	}
	return transport.SendEnvelope(c.managerConn, wire.TypeVaultJoinedNetwork, wire.VaultJoinedNetwork{
		ProcessIndex: c.processIndex,
		PublicKey:    c.identityResult.keys.PublicKey,
		Joined:       joined,
	})
}

// Close releases the controller's own listener and manager connection.
func (c *Controller) Close() {
	if c.transport != nil {
		c.transport.Close()
	}
}
