package decode

import (
	"github.com/mitchellh/mapstructure"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

// Struct decodes a generic JSON payload map into a typed struct.
// Unknown keys are ignored; json tags drive the field mapping.
func Struct[T any](in map[string]any) (*T, error) {
	if in == nil {
		return nil, errs.New("nil payload")
	}
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "build decoder")
	}
	if err := dec.Decode(in); err != nil {
		return nil, errs.WrapMsg(err, "decode payload")
	}
	return &out, nil
}
