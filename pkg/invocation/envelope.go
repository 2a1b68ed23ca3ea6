package invocation

import (
	"encoding/binary"
	"encoding/json"

	"github.com/latticehq/hostd/pkg/errs"
)

// EncodeEnvelope frames header ahead of payload as a length-prefixed
// JSON blob. The Bus contract only surfaces headers it received
// natively (e.g. from a NATS message) on inbound Msg values; it has
// no way for a caller to set them on an outgoing Request. Framing the
// header into the request body itself keeps source identity, trace
// context and xkey sender public key attached to a call regardless of
// which Bus implementation carries it.
func EncodeEnvelope(header map[string]string, payload []byte) ([]byte, error) {
	hdrBytes, err := json.Marshal(header)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "marshal invocation header", err)
	}
	out := make([]byte, 4+len(hdrBytes)+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(hdrBytes)))
	copy(out[4:], hdrBytes)
	copy(out[4+len(hdrBytes):], payload)
	return out, nil
}

// DecodeEnvelope reverses EncodeEnvelope, returning the caller's
// header and the payload. pkg/host has no bus subscriber for
// invocation subjects; in this repository only the package's tests
// decode envelopes.
func DecodeEnvelope(framed []byte) (map[string]string, []byte, error) {
	if len(framed) < 4 {
		return nil, nil, errs.New(errs.KindDataCorruption, "invocation envelope too short")
	}
	hdrLen := binary.BigEndian.Uint32(framed[:4])
	if uint64(4+hdrLen) > uint64(len(framed)) {
		return nil, nil, errs.New(errs.KindDataCorruption, "invocation envelope header length out of range")
	}
	var header map[string]string
	if err := json.Unmarshal(framed[4:4+hdrLen], &header); err != nil {
		return nil, nil, errs.Wrap(errs.KindDataCorruption, "decode invocation header", err)
	}
	payload := framed[4+hdrLen:]
	return header, payload, nil
}
