package logger

import (
	"time"

	"github.com/rs/zerolog"
)

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindStrings
	kindInt
	kindFloat
	kindBool
	kindDuration
	kindError
	kindAny
)

// Field is a typed key/value pair. It is a plain value so building one
// never allocates beyond what the value itself needs.
type Field struct {
	Key  string
	kind fieldKind
	str  string
	strs []string
	num  int64
	flt  float64
	err  error
	any  interface{}
}

func (f Field) addTo(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.Key, f.str)
	case kindStrings:
		e.Strs(f.Key, f.strs)
	case kindInt:
		e.Int64(f.Key, f.num)
	case kindFloat:
		e.Float64(f.Key, f.flt)
	case kindBool:
		e.Bool(f.Key, f.num == 1)
	case kindDuration:
		e.Int64(f.Key, f.num)
	case kindError:
		e.AnErr(f.Key, f.err)
	default:
		e.Interface(f.Key, f.any)
	}
}

// Value is the field as a plain Go value, as shipped to collectors and trackers.
func (f Field) Value() interface{} {
	switch f.kind {
	case kindString:
		return f.str
	case kindStrings:
		return f.strs
	case kindInt, kindDuration:
		return f.num
	case kindFloat:
		return f.flt
	case kindBool:
		return f.num == 1
	case kindError:
		if f.err == nil {
			return nil
		}
		return f.err.Error()
	}
	return f.any
}

func String(key, value string) Field { return Field{Key: key, kind: kindString, str: value} }

func Strings(key string, value []string) Field { return Field{Key: key, kind: kindStrings, strs: value} }

func Int(key string, value int) Field { return Field{Key: key, kind: kindInt, num: int64(value)} }

func Int64(key string, value int64) Field { return Field{Key: key, kind: kindInt, num: value} }

func Float64(key string, value float64) Field { return Field{Key: key, kind: kindFloat, flt: value} }

func Bool(key string, value bool) Field {
	f := Field{Key: key, kind: kindBool}
	if value {
		f.num = 1
	}
	return f
}

// Duration is logged in whole milliseconds; name keys accordingly (latency_ms).
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, kind: kindDuration, num: value.Milliseconds()}
}

// Error always uses the "error" key so log queries can rely on it.
func Error(err error) Field { return Field{Key: zerolog.ErrorFieldName, kind: kindError, err: err} }

func Any(key string, value interface{}) Field { return Field{Key: key, kind: kindAny, any: value} }

// errorFrom returns the first non-nil error field.
func errorFrom(fields []Field) error {
	for _, f := range fields {
		if f.kind == kindError && f.err != nil {
			return f.err
		}
	}
	return nil
}
