package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is one routed message. Envelopes are treated as immutable once
// built; use Clone to re-address a body.
type Envelope struct {
	Src  string
	Dest string
	Body Body
}

type wireEnvelope struct {
	Src  string          `json:"src"`
	Dest string          `json:"dest"`
	Body json.RawMessage `json:"body"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Body == nil {
		return nil, fmt.Errorf("%w: envelope %s->%s has no body", ErrMalformed, e.Src, e.Dest)
	}
	body, err := marshalBody(e.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Src: e.Src, Dest: e.Dest, Body: body})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(wire.Body) == 0 || bytes.Equal(wire.Body, []byte("null")) {
		return fmt.Errorf("%w: missing body", ErrMalformed)
	}

	var tag struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(wire.Body, &tag); err != nil {
		return fmt.Errorf("%w: body: %w", ErrMalformed, err)
	}
	if tag.Type == "" {
		return fmt.Errorf("%w: body has no type", ErrMalformed)
	}

	body, err := New(tag.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(wire.Body, body); err != nil {
		return fmt.Errorf("%w: %s body: %w", ErrMalformed, tag.Type, err)
	}

	e.Src = wire.Src
	e.Dest = wire.Dest
	e.Body = body
	return nil
}

// Decode parses one JSON line. Every failure matches ErrMalformed or
// ErrUnknownType.
func Decode(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		if errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownType) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return env, nil
}

// Encode renders env as a single JSON line without the trailing newline.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// marshalBody encodes the variant fields and splices the discriminant in
// front of them.
func marshalBody(b Body) ([]byte, error) {
	fields, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", b.Type(), err)
	}
	if len(fields) < 2 || fields[0] != '{' {
		return nil, fmt.Errorf("%w: %s body is not an object", ErrMalformed, b.Type())
	}
	tag, err := json.Marshal(string(b.Type()))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(fields) + len(tag) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(fields) > 2 {
		buf.WriteByte(',')
		buf.Write(fields[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// MarshalJSON emits "value" for counter reads and "messages" otherwise, so an
// empty broadcast read still carries an empty list.
func (r *ReadOk) MarshalJSON() ([]byte, error) {
	if r.Value != nil {
		return json.Marshal(struct {
			Header
			Value int64 `json:"value"`
		}{r.Header, *r.Value})
	}
	msgs := r.Messages
	if msgs == nil {
		msgs = []int64{}
	}
	return json.Marshal(struct {
		Header
		Messages []int64 `json:"messages"`
	}{r.Header, msgs})
}
