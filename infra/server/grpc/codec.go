package grpcserver

import "encoding/json"

// jsonCodec is the grpc.Codec spec §6.1 resolves the control plane's
// Open Question onto: plain Go structs over a hand-written
// grpc.ServiceDesc, encoded as JSON rather than protobuf, so no
// protoc-generated message types are required (see DESIGN.md and
// SPEC_FULL.md §11 for why protovalidate/cel/antlr are dropped).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }
