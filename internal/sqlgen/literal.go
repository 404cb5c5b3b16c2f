package sqlgen

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kyleking/insight-query/internal/errors"
)

func unsafeLiteral(format string, args ...interface{}) *errors.Error {
	return errors.Newf(errors.ErrTypeGeneration, format, args...).
		WithReason(errors.ReasonUnsafeLiteral)
}

// RenderLiteral renders a scalar filter value. Strings and dates are quoted with
// quote doubling; numbers and booleans are emitted bare.
func RenderLiteral(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return quoteString(x)
	case time.Time:
		if x.IsZero() {
			return "", unsafeLiteral("zero time is not a valid literal")
		}

		h, m, s := x.Clock()
		if h == 0 && m == 0 && s == 0 && x.Nanosecond() == 0 {
			return "'" + x.Format("2006-01-02") + "'", nil
		}

		return "'" + x.Format("2006-01-02 15:04:05") + "'", nil
	case bool:
		if x {
			return "TRUE", nil
		}

		return "FALSE", nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return renderFloat(float64(x), 32)
	case float64:
		return renderFloat(x, 64)
	default:
		return "", unsafeLiteral("unsupported literal type %T", v)
	}
}

func renderFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", unsafeLiteral("non-finite number %v", f)
	}

	return strconv.FormatFloat(f, 'f', -1, bits), nil
}

func quoteString(s string) (string, error) {
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", unsafeLiteral("string literal contains control character %U", r)
		}
	}

	return "'" + strings.ReplaceAll(s, "'", "''") + "'", nil
}

// renderPredicate renders one WHERE term for column
func renderPredicate(column string, v interface{}) (string, error) {
	if v == nil {
		return column + " IS NULL", nil
	}

	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		if rv.Len() == 0 {
			return "", unsafeLiteral("empty list for column %s", column)
		}

		items := make([]string, rv.Len())
		for i := range rv.Len() {
			item := rv.Index(i).Interface()
			if item == nil {
				return "", unsafeLiteral("NULL inside list for column %s", column)
			}

			lit, err := RenderLiteral(item)
			if err != nil {
				return "", err
			}

			items[i] = lit
		}

		return column + " IN (" + strings.Join(items, ", ") + ")", nil
	}

	lit, err := RenderLiteral(v)
	if err != nil {
		return "", err
	}

	return column + " = " + lit, nil
}
