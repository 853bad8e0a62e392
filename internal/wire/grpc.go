package wire

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype carrying JSON frames.
const CodecName = "json"

const (
	ServiceName   = "chatrelay.v1.Relay"
	ConnectMethod = "/" + ServiceName + "/Connect"
)

// ConnectStreamDesc describes the bidirectional Connect stream.
var ConnectStreamDesc = &grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// RawFrame is a message received without decoding, so a malformed frame can
// be answered instead of failing the stream.
type RawFrame []byte

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if r, ok := v.(RawFrame); ok {
		return r, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if r, ok := v.(*RawFrame); ok {
		*r = append((*r)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
