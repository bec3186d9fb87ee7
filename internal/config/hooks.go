package config

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"firestige.xyz/tsnstream/internal/stream"
)

var (
	portListType        = reflect.TypeOf(stream.PortList{})
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// decodeHook is the hook chain used when unmarshalling the config tree.
// Passing a hook to viper replaces its defaults, so the duration and slice
// hooks are listed again.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		portListHook,
		hexStringHook,
		numberToTextHook,
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// portListHook accepts "1-3,7" or a sequence of port numbers.
func portListHook(from, to reflect.Type, data any) (any, error) {
	if to != portListType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return stream.ParsePortList(v)
	case []any:
		ports := make([]int, 0, len(v))
		for _, p := range v {
			n, err := toInt(p)
			if err != nil {
				return nil, fmt.Errorf("ports: %w", err)
			}
			ports = append(ports, n)
		}
		return stream.NewPortList(ports...)
	case []int:
		return stream.NewPortList(v...)
	case nil:
		return stream.PortList{}, nil
	}
	return data, nil
}

// hexStringHook decodes "0x88f7"-style strings into unsigned fields.
func hexStringHook(from, to reflect.Type, data any) (any, error) {
	s, ok := data.(string)
	if !ok || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s[2:], 16, to.Bits())
		if err != nil {
			return nil, fmt.Errorf("invalid hex value %q: %w", s, err)
		}
		return reflect.ValueOf(n).Convert(to).Interface(), nil
	}
	return data, nil
}

// numberToTextHook lets YAML integers reach text unmarshalers, so that
// `dei: 1` decodes the same as `dei: "1"`.
func numberToTextHook(from, to reflect.Type, data any) (any, error) {
	if !reflect.PointerTo(to).Implements(textUnmarshalerType) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt(data)
		if err != nil {
			return nil, err
		}
		return strconv.Itoa(n), nil
	case reflect.Bool:
		return strconv.FormatBool(data.(bool)), nil
	}
	return data, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("unexpected %T", v)
}
