// Package wire defines the MQTT payloads exchanged with the automation
// server and the codecs that encode them.
//
// JSON is the default. CBOR is available for constrained brokers and
// clients; the encoder is deterministic so retained payloads compare equal
// across restarts.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec names accepted in configuration.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// ErrUnknownCodec is returned by ForName.
var ErrUnknownCodec = errors.New("wire: unknown codec")

// Codec encodes and decodes payloads.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ForName returns the codec for a configuration name. Empty selects JSON.
func ForName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON{}, nil
	case CodecCBOR:
		return CBOR{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// JSON is the encoding/json codec.
type JSON struct{}

func (JSON) Name() string                       { return CodecJSON }
func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	cborEnc, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	cborDec, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor decoder mode: %v", err))
	}
}

// CBOR is the deterministic CBOR codec. Struct fields use their json tags.
type CBOR struct{}

func (CBOR) Name() string                       { return CodecCBOR }
func (CBOR) Marshal(v any) ([]byte, error)      { return cborEnc.Marshal(v) }
func (CBOR) Unmarshal(data []byte, v any) error { return cborDec.Unmarshal(data, v) }
