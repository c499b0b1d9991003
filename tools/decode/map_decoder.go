package decode

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// DecodeMap decodes a dynamic payload map into a typed struct T.
// Field names follow the `json` tag; input is weakly typed so "123" -> int
// and 1.0 -> int64 survive the JSON round trip.
func DecodeMap[T any](m map[string]any) (*T, error) {
	if m == nil {
		return nil, errors.New("payload map is nil")
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new decoder")
	}
	if err := dec.Decode(m); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	return &out, nil
}
