package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwrk-planet/docsync/internal/domain"
)

var ErrMalformed = errors.New("malformed envelope")

// Encode builds a wire frame {type, payload}.
func Encode(typ string, payload any) ([]byte, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func MustEncode(typ string, payload any) []byte {
	b, err := Encode(typ, payload)
	if err != nil {
		panic(err)
	}
	return b
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Into decodes the payload into dst.
func (e Envelope) Into(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// ErrorFor maps a rejection reason to an error event for the offending connection.
func ErrorFor(ref string, err error) ErrorPayload {
	code := CodeBadRequest
	switch {
	case errors.Is(err, domain.ErrMissingRoomID):
		code = CodeMissingRoomID
	case errors.Is(err, domain.ErrNotMember):
		code = CodeNotMember
	case errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, domain.ErrMessageTooLong):
		code = CodeInvalidMessage
	case errors.Is(err, errUnknownType):
		code = CodeUnknownType
	}
	return ErrorPayload{Code: code, Message: err.Error(), Ref: ref}
}

var errUnknownType = errors.New("unknown message type")

func UnknownType(typ string) error {
	return fmt.Errorf("%w: %q", errUnknownType, typ)
}
