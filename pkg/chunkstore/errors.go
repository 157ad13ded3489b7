package chunkstore

import (
	"encoding/hex"

	"github.com/maidsafe/vault-mgr/pkg/vaulterrors"
)

func errInvalidArgument(op, msg string) error {
	return vaulterrors.Wrap(op, vaulterrors.KindInvalidArgument, errString(msg))
}

func errNotFound(op string, id []byte) error {
	return vaulterrors.Wrap(op, vaulterrors.KindNotFound, errString("chunk "+hex.EncodeToString(id)+" not found"))
}

func errImmutable(op string, id []byte) error {
	return vaulterrors.Wrap(op, vaulterrors.KindImmutable, errString("chunk "+hex.EncodeToString(id)+" is hash-named and immutable"))
}

func errOutOfCapacity(op string) error {
	return vaulterrors.Wrap(op, vaulterrors.KindOutOfCapacity, errString("operation would exceed store capacity"))
}

func errIO(op string, err error) error {
	return vaulterrors.Wrap(op, vaulterrors.KindIO, err)
}

type errString string

func (e errString) Error() string { return string(e) }
