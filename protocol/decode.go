package protocol

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode copies a decoded object (or any map/slice tree) into target, which must
// be a pointer. Struct fields are matched by their json tag; numbers and strings
// are converted loosely because the backend sends 64-bit integers as strings.
func Decode(input interface{}, target interface{}) error {
	if input == nil {
		return fmt.Errorf("input is nil, cannot decode")
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode into %T: %w", target, err)
	}
	return nil
}
