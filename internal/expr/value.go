// Package expr implements the small expression language used by vivid
// templates: literals, identifiers, member/index access, calls, arithmetic,
// comparisons, logical operators, ternaries and assignment, evaluated
// against an environment chain of live bindings.
package expr

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// undefinedValue is the sentinel for "no value". It is distinct from nil so
// that a binding explicitly set to null can be told apart from a missing one.
type undefinedValue struct{}

func (undefinedValue) String() string { return "undefined" }

// Undefined is returned when evaluation cannot produce a value, and by
// member/index reads that miss.
var Undefined = undefinedValue{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// Object is implemented by container values that expose named members to
// expressions. Tracked maps implement it so that writes go through their
// notification bookkeeping.
type Object interface {
	Member(name string) (interface{}, bool)
	SetMember(name string, v interface{}) error
}

// List is implemented by container values that expose indexed items to
// expressions.
type List interface {
	Item(i int) (interface{}, bool)
	SetItem(i int, v interface{}) error
	Len() int
}

// Callable is implemented by bound functions that want to receive raw
// argument values instead of going through reflection.
type Callable interface {
	CallExpr(args []interface{}) (interface{}, error)
}

// Truthy reports the truthiness of v: false for nil, Undefined, false,
// zero numbers, NaN and the empty string, true for everything else
// (containers are always truthy, even when empty).
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case undefinedValue:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case int64:
		return t != 0
	case float32:
		return t != 0
	default:
		return true
	}
}

// normalize folds the numeric kinds that reach the evaluator from Go data
// into float64, the language's only number type. Other values pass through.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// ToNumber converts v to a float64. Conversion failures yield NaN, matching
// the language's arithmetic behavior on non-numeric input.
func ToNumber(v interface{}) float64 {
	switch t := normalize(v).(type) {
	case float64:
		return t
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case nil:
		return 0
	default:
		return math.NaN()
	}
}

// ToString renders v the way template output does: integral floats print
// without a decimal point, nil prints as null.
func ToString(v interface{}) string {
	switch t := normalize(v).(type) {
	case nil:
		return "null"
	case undefinedValue:
		return "undefined"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// StrictEquals implements === : equal only when both sides are the same
// kind with the same value. Containers compare by identity.
func StrictEquals(a, b interface{}) bool {
	a, b = normalize(a), normalize(b)
	switch at := a.(type) {
	case nil:
		return b == nil
	case undefinedValue:
		return IsUndefined(b)
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case float64:
		bt, ok := b.(float64)
		return ok && at == bt
	default:
		av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
		if !av.IsValid() || !bv.IsValid() || av.Type() != bv.Type() {
			return false
		}
		switch av.Kind() {
		case reflect.Map, reflect.Slice, reflect.Func:
			return av.Pointer() == bv.Pointer()
		}
		if !av.Comparable() {
			return false
		}
		return a == b
	}
}

// LooseEquals implements == : strict equality first, then nil/undefined
// cross-equality, then numeric comparison when both sides convert to
// numbers cleanly.
func LooseEquals(a, b interface{}) bool {
	if StrictEquals(a, b) {
		return true
	}
	an := a == nil || IsUndefined(a)
	bn := b == nil || IsUndefined(b)
	if an || bn {
		return an && bn
	}
	af, bf := ToNumber(a), ToNumber(b)
	if math.IsNaN(af) || math.IsNaN(bf) {
		return false
	}
	return af == bf
}

// Compare returns -1, 0 or 1 ordering a against b, string-wise when both
// are strings, numerically otherwise. The second result is false when the
// comparison is undefined (NaN on either side).
func Compare(a, b interface{}) (int, bool) {
	a, b = normalize(a), normalize(b)
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	af, bf := ToNumber(a), ToNumber(b)
	if math.IsNaN(af) || math.IsNaN(bf) {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}
