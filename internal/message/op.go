package message

import (
	"encoding/json"
	"fmt"
)

type OpKind string

const (
	OpRead  OpKind = "r"
	OpWrite OpKind = "w"
)

// Op is a transaction micro-operation, encoded as [kind, key, value|null].
type Op struct {
	Kind  OpKind
	Key   int64
	Value *int64
}

func ReadOp(key int64) Op {
	return Op{Kind: OpRead, Key: key}
}

func WriteOp(key, value int64) Op {
	return Op{Kind: OpWrite, Key: key, Value: &value}
}

func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{o.Kind, o.Key, o.Value})
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: micro-op: %w", ErrMalformed, err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("%w: micro-op has %d elements, want 3", ErrMalformed, len(parts))
	}

	var kind OpKind
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return fmt.Errorf("%w: micro-op kind: %w", ErrMalformed, err)
	}
	switch kind {
	case OpRead, OpWrite:
	default:
		return fmt.Errorf("%w: unknown micro-op %q", ErrMalformed, kind)
	}

	var key int64
	if err := json.Unmarshal(parts[1], &key); err != nil {
		return fmt.Errorf("%w: micro-op key: %w", ErrMalformed, err)
	}
	var value *int64
	if err := json.Unmarshal(parts[2], &value); err != nil {
		return fmt.Errorf("%w: micro-op value: %w", ErrMalformed, err)
	}

	*o = Op{Kind: kind, Key: key, Value: value}
	return nil
}

func (o Op) String() string {
	if o.Value == nil {
		return fmt.Sprintf("[%s %d nil]", o.Kind, o.Key)
	}
	return fmt.Sprintf("[%s %d %d]", o.Kind, o.Key, *o.Value)
}
