package tabexport

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// SanitizeValue converts a cell value to text. Slices and arrays are joined
// with ", ", maps, structs and other composite values become the empty string,
// and text is normalized to UTF-8.
func SanitizeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return NormalizeText(x)
	case []byte:
		return NormalizeText(string(x))
	case bool:
		if x {
			return "1"
		}
		return ""
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = NormalizeText(s)
		}
		return strings.Join(parts, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = SanitizeValue(e)
		}
		return strings.Join(parts, ", ")
	case fmt.Stringer:
		return NormalizeText(x.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32)
	case reflect.String:
		return NormalizeText(rv.String())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = SanitizeValue(rv.Index(i).Interface())
		}
		return strings.Join(parts, ", ")
	case reflect.Pointer:
		if rv.IsNil() {
			return ""
		}
		return SanitizeValue(rv.Elem().Interface())
	default:
		return ""
	}
}

// NormalizeText returns s as UTF-8. Valid UTF-8 is returned unchanged. Other
// input is decoded as Windows-1252 when it uses that code page's 0x80-0x9F
// range, otherwise as ISO-8859-1. Input that looks binary is returned as is.
func NormalizeText(s string) string {
	if utf8.ValidString(s) || looksBinary(s) {
		return s
	}
	dec := charmap.ISO8859_1.NewDecoder()
	if usesWindows1252(s) {
		dec = charmap.Windows1252.NewDecoder()
	}
	out, err := dec.String(s)
	if err != nil {
		return s
	}
	return out
}

func usesWindows1252(s string) bool {
	for i := 0; i < len(s); i++ {
		if b := s[i]; b >= 0x80 && b <= 0x9f {
			return true
		}
	}
	return false
}

func looksBinary(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}
