package ws

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec converts messages to and from the negotiated wire format. JSON
// frames are plain text; protobuf frames are a Zstd-compressed
// google.protobuf.Struct.
type Codec struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewCodec creates a new Codec with Zstd compression.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{zstdEncoder: enc, zstdDecoder: dec}, nil
}

// Encode serializes msg for protocol.
func (c *Codec) Encode(protocol string, msg map[string]any) ([]byte, error) {
	if protocol == ProtocolJSON {
		return json.Marshal(msg)
	}

	st, err := structpb.NewStruct(msg)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}
	return c.zstdEncoder.EncodeAll(pbData, nil), nil
}

// Decode parses a frame received in protocol.
func (c *Codec) Decode(protocol string, data []byte) (map[string]any, error) {
	if protocol == ProtocolJSON {
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal json message: %w", err)
		}
		return msg, nil
	}

	pbData, err := c.zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(pbData, &st); err != nil {
		return nil, fmt.Errorf("unmarshal protobuf: %w", err)
	}
	return st.AsMap(), nil
}

// Close releases codec resources.
func (c *Codec) Close() {
	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
	}
}
