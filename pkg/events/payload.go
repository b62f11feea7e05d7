package events

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// PayloadContentType marks outbox payloads as protobuf-encoded google.protobuf.Struct messages.
const PayloadContentType = "application/x-protobuf"

// EncodePayload serializes a JSON-like map as a google.protobuf.Struct.
// Values must be nil, bool, numbers, strings, []any or map[string]any.
func EncodePayload(payload map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return proto.Marshal(s)
}

// DecodePayload is the inverse of EncodePayload. Numbers come back as float64.
func DecodePayload(body []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return s.AsMap(), nil
}
