package llmgateway

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered once at package init so both client and
// test server sides agree on the wire format without requiring a
// protoc-generated .pb.go pair. gRPC's codec is pluggable precisely so
// that services which don't need protobuf's binary efficiency can use
// this instead while still getting HTTP/2 framing, deadlines, and
// streaming for free from the rest of the grpc-go stack.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }
