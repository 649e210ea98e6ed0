package ipc

import (
	"bytes"
	"encoding/json"
)

// EncodeArgs encodes an argument tuple as a JSON array.
func EncodeArgs(args ...interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeArgs decodes the argument tuple of ch into targets, one target per
// declared position. The tuple length must lie between the channel's required
// and declared argument counts; absent optional arguments leave their targets
// untouched. Failures are INVALID_ARGUMENT (or CHANNEL_NOT_FOUND) ChannelErrors.
func DecodeArgs(ch Channel, raw json.RawMessage, targets ...interface{}) error {
	spec, ok := Lookup(ch)
	if !ok {
		return Errorf(CodeChannelNotFound, "Unknown channel: %s", ch)
	}

	var items []json.RawMessage
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Errorf(CodeInvalidArgument, "%s: arguments must be a JSON array", ch)
		}
	}

	if len(items) < spec.MinArgs {
		return Errorf(CodeInvalidArgument, "%s: expected at least %d argument(s), got %d", ch, spec.MinArgs, len(items))
	}
	if len(items) > spec.MaxArgs {
		return Errorf(CodeInvalidArgument, "%s: expected at most %d argument(s), got %d", ch, spec.MaxArgs, len(items))
	}

	for i, item := range items {
		if i >= len(targets) {
			break
		}
		if err := json.Unmarshal(item, targets[i]); err != nil {
			return Errorf(CodeInvalidArgument, "%s: argument %d: %v", ch, i, err)
		}
	}
	return nil
}
