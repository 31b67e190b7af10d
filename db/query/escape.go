package query

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Escape renders v as a MySQL literal for inline use in WHERE fragments.
//
//	nil, nil pointers     NULL
//	bool                  1 / 0
//	string                'quoted' with backslash escapes
//	[]byte, named too     X'hex'
//	NaN, ±Inf             NULL
//	time.Time             'YYYY-MM-DD HH:MM:SS[.ffffff]'
//	slices and arrays     (a, b, c)
//	driver.Valuer         escaped Value()
//	anything else         its textual form
func Escape(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return quote(x)
	case []byte:
		if x == nil {
			return "NULL"
		}
		return "X'" + hex.EncodeToString(x) + "'"
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x, 64)
	case time.Time:
		return quote(formatTime(x))
	case driver.Valuer:
		val, err := x.Value()
		if err != nil {
			return quote(fmt.Sprint(v))
		}
		return Escape(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "NULL"
		}
		return Escape(rv.Elem().Interface())
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.String:
		return quote(rv.String())
	case reflect.Bool:
		return Escape(rv.Bool())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return "NULL"
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			for i := range b {
				b[i] = byte(rv.Index(i).Uint())
			}
			return "X'" + hex.EncodeToString(b) + "'"
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = Escape(rv.Index(i).Interface())
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprint(v)
}

// formatFloat renders f in plain notation. NaN and infinities have no SQL
// literal and become NULL.
func formatFloat(f float64, bits int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "NULL"
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

var escaper = strings.NewReplacer(
	"\x00", `\0`,
	"\b", `\b`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
	"\x1a", `\Z`,
	`"`, `\"`,
	`'`, `\'`,
	`\`, `\\`,
)

func quote(s string) string {
	return "'" + escaper.Replace(s) + "'"
}

func formatTime(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04:05.000000")
}
