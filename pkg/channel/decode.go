package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Decode copies a Request result into dst, which must be a non-nil pointer. Objects
// are decoded field by field using json tags with weak typing, so numbers that
// arrived as float64 fill integer fields.
func Decode(src, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return errors.New("decode target must be a non-nil pointer")
	}
	if src == nil {
		return nil
	}
	if reflect.TypeOf(src) == v.Elem().Type() {
		v.Elem().Set(reflect.ValueOf(src))
		return nil
	}

	switch src.(type) {
	case map[string]any, []any:
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			Result:           dst,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return err
		}
		return dec.Decode(src)
	}

	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return json.Unmarshal(raw, dst)
}
