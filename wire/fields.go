package wire

import (
	"bytes"
	"collab-lab/errors"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New()

// fields is a decoded JSON object with numbers kept as json.Number.
type fields map[string]any

func decode(raw []byte) (fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var f fields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedWirePayload, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: payload is not an object", errors.ErrMalformedWirePayload)
	}
	return f, nil
}

func (f fields) str(name string) string {
	return stringify(f[name])
}

// first returns the first non-empty value among names, in order.
func (f fields) first(names ...string) string {
	v, _ := lo.Coalesce(lo.Map(names, func(name string, _ int) string {
		return f.str(name)
	})...)
	return v
}

// firstPresent returns the first non-null raw value among names.
func (f fields) firstPresent(names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := f[name]; ok && v != nil && v != "" {
			return v, true
		}
	}
	return nil, false
}

// time reads the first present timestamp among names. ok is false when none
// of the names is set.
func (f fields) time(names ...string) (t time.Time, ok bool, err error) {
	v, ok := f.firstPresent(names...)
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := EpochMillis(v)
	if err != nil {
		return time.Time{}, true, fmt.Errorf("%w: %v", errors.ErrMalformedWirePayload, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// EpochMillis coerces a timestamp of any supported type to epoch milliseconds.
// Accepted: integer and float numbers, json.Number, numeric strings,
// RFC 3339 strings and time.Time.
func EpochMillis(v any) (int64, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UnixMilli(), nil
	case *time.Time:
		if val == nil {
			return 0, fmt.Errorf("nil timestamp")
		}
		return val.UnixMilli(), nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint32:
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return 0, fmt.Errorf("timestamp %d overflows", val)
		}
		return int64(val), nil
	case float32:
		return floatMillis(float64(val))
	case float64:
		return floatMillis(val)
	case json.Number:
		return stringMillis(val.String())
	case string:
		return stringMillis(val)
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func floatMillis(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("timestamp %v is out of range", f)
	}
	return int64(math.Round(f)), nil
}

func stringMillis(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return floatMillis(f)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q is neither numeric nor RFC 3339", s)
	}
	return t.UnixMilli(), nil
}

func validationError(err error) error {
	return fmt.Errorf("%w: %v", errors.ErrMalformedWirePayload, err)
}

// SessionOf reads the session id of any inbound payload, or "" when absent
// or unparseable.
func SessionOf(raw []byte) string {
	f, err := decode(raw)
	if err != nil {
		return ""
	}
	return f.first("session_id", "sessionId")
}
