package service

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec carries plain Go structs over Connect. It takes the "json" name,
// replacing the protobuf-only codec Connect registers by default.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

func (jsonCodec) Unmarshal(data []byte, msg any) error { return json.Unmarshal(data, msg) }

// WithJSON is the handler option every service handler is built with.
func WithJSON() connect.HandlerOption { return connect.WithCodec(jsonCodec{}) }

// ClientJSON is the matching client option.
func ClientJSON() connect.ClientOption { return connect.WithCodec(jsonCodec{}) }
