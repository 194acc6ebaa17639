package schema

import (
	"fmt"
	"strconv"

	"github.com/sugar-network/node/pkg/errs"
)

// Typecast validates and normalizes a JSON-decoded value before it is
// stored. The closed set of implementations below is the only one the
// engine accepts; Metadata construction rejects anything else.
type Typecast interface {
	Cast(v any) (any, error)
}

// StringCast accepts strings and stringifies scalars.
type StringCast struct{}

func (StringCast) Cast(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	default:
		return nil, errs.Newf(errs.BadRequest, "value %v is not a string", v)
	}
}

// IntCast accepts integers, integral floats and decimal strings.
type IntCast struct{}

func (IntCast) Cast(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		if x != float64(int64(x)) {
			return nil, errs.Newf(errs.BadRequest, "value %v is not an integer", v)
		}
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return nil, errs.Newf(errs.BadRequest, "value %q is not an integer", x)
		}
		return n, nil
	default:
		return nil, errs.Newf(errs.BadRequest, "value %v is not an integer", v)
	}
}

// FloatCast accepts numbers and numeric strings.
type FloatCast struct{}

func (FloatCast) Cast(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil, errs.Newf(errs.BadRequest, "value %q is not a number", x)
		}
		return f, nil
	default:
		return nil, errs.Newf(errs.BadRequest, "value %v is not a number", v)
	}
}

// BoolCast accepts booleans, 0/1 numbers and the usual string forms.
type BoolCast struct{}

func (BoolCast) Cast(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return nil, errs.Newf(errs.BadRequest, "value %q is not a boolean", x)
		}
		return b, nil
	default:
		return nil, errs.Newf(errs.BadRequest, "value %v is not a boolean", v)
	}
}

// EnumCast accepts only the listed string values.
type EnumCast struct {
	Values []string
}

func (c EnumCast) Cast(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errs.Newf(errs.BadRequest, "value %v is not a string", v)
	}
	for _, allowed := range c.Values {
		if s == allowed {
			return s, nil
		}
	}
	return nil, errs.Newf(errs.BadRequest, "value %q is not in %v", s, c.Values)
}

// ListCast accepts a JSON array of Of-castable items. A bare scalar is
// wrapped into a one-element list.
type ListCast struct {
	Of Typecast
}

func (c ListCast) Cast(v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	of := c.Of
	if of == nil {
		of = StringCast{}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		cast, err := of.Cast(item)
		if err != nil {
			return nil, err
		}
		out = append(out, cast)
	}
	return out, nil
}

// DictCast accepts a JSON object. Localized properties use it with
// language-tag keys.
type DictCast struct{}

func (DictCast) Cast(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errs.Newf(errs.BadRequest, "value %v is not a dictionary", v)
	}
	return m, nil
}

// Reprcast projects a stored value to the strings indexed for it.
type Reprcast func(v any) []string

// DefaultRepr flattens lists, renders booleans as 0/1 and numbers in
// their decimal form.
func DefaultRepr(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, item := range x {
			out = append(out, DefaultRepr(item)...)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case map[string]any:
		// Localized values index every translation
		var out []string
		for _, item := range x {
			out = append(out, DefaultRepr(item)...)
		}
		return out
	case string:
		return []string{x}
	case bool:
		if x {
			return []string{"1"}
		}
		return []string{"0"}
	case float64:
		return []string{strconv.FormatFloat(x, 'f', -1, 64)}
	case int64:
		return []string{strconv.FormatInt(x, 10)}
	case int:
		return []string{strconv.Itoa(x)}
	default:
		return []string{fmt.Sprintf("%v", x)}
	}
}

func slotable(tc Typecast) bool {
	switch c := tc.(type) {
	case nil:
		return true
	case StringCast, IntCast, FloatCast, BoolCast, EnumCast:
		return true
	case ListCast:
		return c.Of == nil || slotableScalar(c.Of)
	default:
		return false
	}
}

func slotableScalar(tc Typecast) bool {
	switch tc.(type) {
	case StringCast, IntCast, FloatCast, BoolCast, EnumCast:
		return true
	}
	return false
}
