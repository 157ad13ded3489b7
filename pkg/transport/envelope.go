package transport

import (
	"github.com/maidsafe/vault-mgr/pkg/metrics"
	"github.com/maidsafe/vault-mgr/pkg/wire"
)

// SendEnvelope encodes typ/body with pkg/wire and sends the resulting
// frame over conn.
func SendEnvelope(conn *Connection, typ wire.MessageType, body interface{}) error {
	payload, err := wire.Encode(typ, body)
	if err != nil {
		return err
	}
	if err := conn.Send(payload); err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues(typ.String(), "out").Inc()
	return nil
}
