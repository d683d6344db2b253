/*
Package blob encodes the free-form metadata stored alongside messages, users
and settings. Payloads are msgpack maps wrapped in a small versioned envelope
so the format can change without guessing at old rows.
*/
package blob

import (
	"context"
	"errors"

	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/oops"
	"github.com/vmihailenco/msgpack"
)

const CurrentVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported blob version")

// Decoded payloads are never nil.
type Payload map[string]any

type envelope struct {
	Version int            `msgpack:"v"`
	Data    map[string]any `msgpack:"d"`
}

type Codec interface {
	Encode(p Payload) ([]byte, error)
	Decode(data []byte) (Payload, error)
}

type MsgpackCodec struct{}

var _ Codec = MsgpackCodec{}

var Default Codec = MsgpackCodec{}

func (MsgpackCodec) Encode(p Payload) ([]byte, error) {
	if p == nil {
		p = Payload{}
	}
	data, err := msgpack.Marshal(envelope{Version: CurrentVersion, Data: p})
	if err != nil {
		return nil, oops.New(err, "failed to encode blob")
	}
	return data, nil
}

// Empty input decodes to an empty payload.
func (MsgpackCodec) Decode(data []byte) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, nil
	}

	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Payload{}, oops.New(err, "failed to decode blob")
	}
	if env.Version != CurrentVersion {
		return Payload{}, oops.New(ErrUnsupportedVersion, "blob version %d", env.Version)
	}
	if env.Data == nil {
		return Payload{}, nil
	}
	return Payload(env.Data), nil
}

func Encode(p Payload) ([]byte, error) {
	return Default.Encode(p)
}

func Decode(data []byte) (Payload, error) {
	return Default.Decode(data)
}

// Decodes, falling back to an empty payload on garbage. Used when reading
// rows in bulk, where one bad blob should not sink a page.
func DecodeOrEmpty(ctx context.Context, data []byte) Payload {
	p, err := Default.Decode(data)
	if err != nil {
		logging.ExtractLogger(ctx).Warn().Err(err).Int("bytes", len(data)).Msg("discarding undecodable blob")
		return Payload{}
	}
	return p
}

func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// msgpack hands integers back in whatever width it stored them.
func (p Payload) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	}
	return 0, false
}

func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}
