/*
Package wire defines the loopback protocol's message catalogue (§6)
and its envelope codec. A frame carries one Envelope: a MessageType
tag plus a gob-encoded body. Encode/Decode/DecodeBody are the only
functions pkg/transport and pkg/manager need; the message structs
themselves are opaque payloads to the transport layer.
*/
package wire
