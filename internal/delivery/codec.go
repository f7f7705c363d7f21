package delivery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// HeaderContentType names the record header that carries the codec.
const HeaderContentType = "content-type"

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

// Codec serializes TransformMessages on the wire.
type Codec interface {
	ContentType() string
	Encode(msg TransformMessage) ([]byte, error)
	Decode(data []byte, msg *TransformMessage) error
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return ContentTypeJSON }

func (jsonCodec) Encode(msg TransformMessage) ([]byte, error) { return json.Marshal(msg) }

func (jsonCodec) Decode(data []byte, msg *TransformMessage) error { return json.Unmarshal(data, msg) }

type msgpackCodec struct{}

func (msgpackCodec) ContentType() string { return ContentTypeMsgpack }

func (msgpackCodec) Encode(msg TransformMessage) ([]byte, error) { return msgpack.Marshal(msg) }

func (msgpackCodec) Decode(data []byte, msg *TransformMessage) error {
	return msgpack.Unmarshal(data, msg)
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecByName resolves a configured codec name ("json" or "msgpack").
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return Msgpack, nil
	}
	return nil, fmt.Errorf("unknown delivery codec %q", name)
}

// CodecForContentType resolves the codec for a content-type header value.
// An empty value means JSON.
func CodecForContentType(ct string) (Codec, error) {
	switch ct {
	case "", ContentTypeJSON:
		return JSON, nil
	case ContentTypeMsgpack:
		return Msgpack, nil
	}
	return nil, fmt.Errorf("unsupported content type %q", ct)
}
