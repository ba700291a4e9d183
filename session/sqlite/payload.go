package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/internal/canonical"
)

// encoding identifies how an event payload is stored. Values are persisted
// in the events table; changing them breaks existing databases.
type encoding uint8

const (
	// encodingJSON stores canonical JSON as is.
	encodingJSON encoding = 0
	// encodingZstdJSON stores zstd compressed canonical JSON.
	encodingZstdJSON encoding = 1
)

// DefaultCompressThreshold is the payload size in bytes above which event
// payloads are compressed.
const DefaultCompressThreshold = 4 << 10

// Shared zstd encoder and decoder; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("sqlite: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("sqlite: zstd decoder initialization failed: " + err.Error())
	}
}

func marshalState(state core.StateMap) (string, error) {
	data, err := canonical.Marshal(state.Persisted())
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return string(data), nil
}

func unmarshalState(data string) (core.StateMap, error) {
	state := core.StateMap{}
	if data == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

// encodeEvent returns the stored form of ev. Payloads larger than threshold
// are compressed when the result is smaller; threshold <= 0 disables
// compression.
func encodeEvent(ev core.Event, threshold int) ([]byte, encoding, error) {
	data, err := canonical.Marshal(ev)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal event: %w", err)
	}
	if threshold <= 0 || len(data) <= threshold {
		return data, encodingJSON, nil
	}
	compressed := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(compressed) >= len(data) {
		return data, encodingJSON, nil
	}
	return compressed, encodingZstdJSON, nil
}

func decodeEvent(payload []byte, enc encoding) (core.Event, error) {
	var ev core.Event
	switch enc {
	case encodingJSON:
	case encodingZstdJSON:
		raw, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return ev, fmt.Errorf("decompress event: %w", err)
		}
		payload = raw
	default:
		return ev, fmt.Errorf("unknown event encoding %d", enc)
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal event: %w", err)
	}
	ev.Timestamp = ev.Timestamp.UTC()
	return ev, nil
}
