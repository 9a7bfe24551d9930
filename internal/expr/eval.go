package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
)

// Env is one scope level of the evaluation environment. Lookups walk the
// parent chain; assignments land in the scope that owns the name, or in the
// root scope when the name is new. A scope may intercept writes with an
// assign hook so the caller can route them through its own bookkeeping.
type Env struct {
	parent *Env
	vars   map[string]interface{}
	assign func(name string, v interface{}) error
}

// NewEnv returns an empty scope chained to parent (parent may be nil).
func NewEnv(parent *Env) *Env {
	return &Env{parent: parent, vars: make(map[string]interface{})}
}

// Define binds name at this scope level, shadowing outer scopes.
func (e *Env) Define(name string, v interface{}) {
	e.vars[name] = v
}

// Get resolves name against this scope chain.
func (e *Env) Get(name string) (interface{}, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// OnAssign installs a write hook for names owned by (or created at) this
// scope level.
func (e *Env) OnAssign(fn func(name string, v interface{}) error) {
	e.assign = fn
}

func (e *Env) set(name string, v interface{}) error {
	for s := e; s != nil; s = s.parent {
		if _, ok := s.vars[name]; ok {
			if s.assign != nil {
				return s.assign(name, v)
			}
			s.vars[name] = v
			return nil
		}
	}
	root := e
	for root.parent != nil {
		root = root.parent
	}
	if root.assign != nil {
		return root.assign(name, v)
	}
	root.vars[name] = v
	return nil
}

type runtimeError struct{ err error }

func (e runtimeError) Error() string { return e.err.Error() }
func (e runtimeError) Unwrap() error { return e.err }

func fail(format string, args ...interface{}) {
	panic(runtimeError{err: fmt.Errorf(format, args...)})
}

func failWith(err error) {
	panic(runtimeError{err: err})
}

// Eval evaluates a parsed expression against env. Runtime failures come
// back as errors; errors returned by assignment hooks and called functions
// are preserved for errors.Is.
func Eval(n Node, env *Env) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			rt, ok := r.(runtimeError)
			if !ok {
				panic(r)
			}
			v, err = Undefined, rt.err
		}
	}()
	return eval(n, env), nil
}

// EvalString parses and evaluates in one step.
func EvalString(input string, env *Env) (interface{}, error) {
	n, err := Parse(input)
	if err != nil {
		return Undefined, err
	}
	return Eval(n, env)
}

// Call invokes fn, a Go function or Callable, with pre-evaluated arguments,
// converting them the way expression calls do.
func Call(fn interface{}, args []interface{}) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			rt, ok := r.(runtimeError)
			if !ok {
				panic(r)
			}
			v, err = Undefined, rt.err
		}
	}()
	return callValue(fn, args, "call"), nil
}

func eval(n Node, env *Env) interface{} {
	switch t := n.(type) {
	case numberNode:
		return t.value
	case stringNode:
		return t.value
	case boolNode:
		return t.value
	case nullNode:
		return nil
	case undefinedNode:
		return Undefined
	case identNode:
		v, ok := env.Get(t.name)
		if !ok {
			fail("undefined variable: %s", t.name)
		}
		return normalize(v)
	case prefixNode:
		return evalPrefix(t, env)
	case infixNode:
		return evalInfix(t, env)
	case ternaryNode:
		if Truthy(eval(t.cond, env)) {
			return eval(t.then, env)
		}
		return eval(t.alt, env)
	case memberNode:
		return evalMember(eval(t.object, env), t.name)
	case indexNode:
		return evalIndex(eval(t.object, env), eval(t.index, env))
	case callNode:
		return evalCall(t, env)
	case assignNode:
		return evalAssign(t, env)
	case nil:
		fail("empty expression")
		return nil
	default:
		fail("cannot evaluate %T", n)
		return nil
	}
}

func evalPrefix(n prefixNode, env *Env) interface{} {
	v := eval(n.right, env)
	switch n.op {
	case tokBang:
		return !Truthy(v)
	case tokMinus:
		return -ToNumber(v)
	}
	fail("bad prefix operator")
	return nil
}

func evalInfix(n infixNode, env *Env) interface{} {
	// logical operators short-circuit and yield the deciding operand
	switch n.op {
	case tokAnd:
		left := eval(n.left, env)
		if !Truthy(left) {
			return left
		}
		return eval(n.right, env)
	case tokOr:
		left := eval(n.left, env)
		if Truthy(left) {
			return left
		}
		return eval(n.right, env)
	}

	left := eval(n.left, env)
	right := eval(n.right, env)
	switch n.op {
	case tokPlus:
		if _, ok := normalize(left).(string); ok {
			return ToString(left) + ToString(right)
		}
		if _, ok := normalize(right).(string); ok {
			return ToString(left) + ToString(right)
		}
		return ToNumber(left) + ToNumber(right)
	case tokMinus:
		return ToNumber(left) - ToNumber(right)
	case tokStar:
		return ToNumber(left) * ToNumber(right)
	case tokSlash:
		return ToNumber(left) / ToNumber(right)
	case tokPercent:
		return math.Mod(ToNumber(left), ToNumber(right))
	case tokEq:
		return LooseEquals(left, right)
	case tokNotEq:
		return !LooseEquals(left, right)
	case tokStrictEq:
		return StrictEquals(left, right)
	case tokStrictNE:
		return !StrictEquals(left, right)
	case tokLT, tokGT, tokLTE, tokGTE:
		c, ok := Compare(left, right)
		if !ok {
			return false
		}
		switch n.op {
		case tokLT:
			return c < 0
		case tokGT:
			return c > 0
		case tokLTE:
			return c <= 0
		default:
			return c >= 0
		}
	}
	fail("bad operator")
	return nil
}

func evalMember(obj interface{}, name string) interface{} {
	switch t := obj.(type) {
	case nil:
		fail("cannot read %q of null", name)
	case undefinedValue:
		fail("cannot read %q of undefined", name)
	case string:
		if name == "length" {
			return float64(len(t))
		}
		return Undefined
	case Object:
		if v, ok := t.Member(name); ok {
			return normalize(v)
		}
		if name == "length" {
			if l, ok := t.(List); ok {
				return float64(l.Len())
			}
		}
		return Undefined
	case List:
		if name == "length" {
			return float64(t.Len())
		}
		return Undefined
	case map[string]interface{}:
		if v, ok := t[name]; ok {
			return normalize(v)
		}
		return Undefined
	case []interface{}:
		if name == "length" {
			return float64(len(t))
		}
		return Undefined
	}
	if v, ok := reflectField(obj, name); ok {
		return v
	}
	return Undefined
}

func reflectField(obj interface{}, name string) (interface{}, bool) {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	f := rv.FieldByName(name)
	if !f.IsValid() || !f.CanInterface() {
		return nil, false
	}
	return normalize(f.Interface()), true
}

func evalIndex(obj, idx interface{}) interface{} {
	switch t := obj.(type) {
	case nil:
		fail("cannot index null")
	case undefinedValue:
		fail("cannot index undefined")
	case List:
		i := int(ToNumber(idx))
		if v, ok := t.Item(i); ok {
			return normalize(v)
		}
		return Undefined
	case []interface{}:
		i := int(ToNumber(idx))
		if i < 0 || i >= len(t) {
			return Undefined
		}
		return normalize(t[i])
	case string:
		i := int(ToNumber(idx))
		if i < 0 || i >= len(t) {
			return Undefined
		}
		return string(t[i])
	case Object:
		if v, ok := t.Member(ToString(idx)); ok {
			return normalize(v)
		}
		return Undefined
	case map[string]interface{}:
		if v, ok := t[ToString(idx)]; ok {
			return normalize(v)
		}
		return Undefined
	}
	fail("cannot index %T", obj)
	return nil
}

func evalAssign(n assignNode, env *Env) interface{} {
	value := eval(n.value, env)
	switch target := n.target.(type) {
	case identNode:
		if err := env.set(target.name, value); err != nil {
			failWith(fmt.Errorf("assign %s: %w", target.name, err))
		}
	case memberNode:
		obj := eval(target.object, env)
		switch t := obj.(type) {
		case Object:
			if err := t.SetMember(target.name, value); err != nil {
				failWith(fmt.Errorf("assign .%s: %w", target.name, err))
			}
		case map[string]interface{}:
			t[target.name] = value
		default:
			fail("cannot assign member %q of %T", target.name, obj)
		}
	case indexNode:
		obj := eval(target.object, env)
		idx := eval(target.index, env)
		switch t := obj.(type) {
		case List:
			if err := t.SetItem(int(ToNumber(idx)), value); err != nil {
				failWith(fmt.Errorf("assign index: %w", err))
			}
		case []interface{}:
			i := int(ToNumber(idx))
			if i < 0 || i >= len(t) {
				fail("index %d out of range", i)
			}
			t[i] = value
		case Object:
			if err := t.SetMember(ToString(idx), value); err != nil {
				failWith(fmt.Errorf("assign index: %w", err))
			}
		case map[string]interface{}:
			t[ToString(idx)] = value
		default:
			fail("cannot assign index of %T", obj)
		}
	}
	return value
}

func evalCall(n callNode, env *Env) interface{} {
	args := make([]interface{}, len(n.args))
	for i, a := range n.args {
		args[i] = eval(a, env)
	}
	if m, ok := n.callee.(memberNode); ok {
		obj := eval(m.object, env)
		return callMethod(obj, m.name, args)
	}
	name := "value"
	if id, ok := n.callee.(identNode); ok {
		name = id.name
	}
	fn := eval(n.callee, env)
	return callValue(fn, args, name)
}

func callMethod(obj interface{}, name string, args []interface{}) interface{} {
	if o, ok := obj.(Object); ok {
		if v, found := o.Member(name); found {
			if isCallableValue(v) {
				return callValue(v, args, name)
			}
		}
	}
	if obj == nil || IsUndefined(obj) {
		fail("cannot call %q on %s", name, ToString(obj))
	}
	rv := reflect.ValueOf(obj)
	method := rv.MethodByName(name)
	if !method.IsValid() {
		fail("%T has no method %q", obj, name)
	}
	return callReflect(method, args, name)
}

func isCallableValue(v interface{}) bool {
	if _, ok := v.(Callable); ok {
		return true
	}
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}

func callValue(fn interface{}, args []interface{}, name string) interface{} {
	if c, ok := fn.(Callable); ok {
		v, err := c.CallExpr(args)
		if err != nil {
			failWith(fmt.Errorf("call %s: %w", name, err))
		}
		return normalize(v)
	}
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func {
		fail("%s is not a function", name)
	}
	return callReflect(rv, args, name)
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

func callReflect(fn reflect.Value, args []interface{}, name string) interface{} {
	ft := fn.Type()
	numIn := ft.NumIn()
	fixed := numIn
	if ft.IsVariadic() {
		fixed = numIn - 1
	}
	if len(args) < fixed || (!ft.IsVariadic() && len(args) > numIn) {
		fail("%s expects %d argument(s), got %d", name, fixed, len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if i < fixed {
			pt = ft.In(i)
		} else {
			pt = ft.In(numIn - 1).Elem()
		}
		cv, err := convertArg(a, pt)
		if err != nil {
			failWith(fmt.Errorf("call %s, argument %d: %w", name, i+1, err))
		}
		in[i] = cv
	}
	out := fn.Call(in)
	if len(out) > 0 && out[len(out)-1].Type() == errType {
		if e, _ := out[len(out)-1].Interface().(error); e != nil {
			failWith(fmt.Errorf("call %s: %w", name, e))
		}
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return Undefined
	}
	return normalize(out[0].Interface())
}

func convertArg(v interface{}, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		if v == nil {
			return reflect.Zero(t), nil
		}
		return reflect.ValueOf(v), nil
	}
	if v == nil || IsUndefined(v) {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(normalize(v))
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	switch t.Kind() {
	case reflect.Float64, reflect.Float32,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f := ToNumber(v)
		if math.IsNaN(f) {
			return reflect.Value{}, errors.New("not a number")
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.String:
		return reflect.ValueOf(ToString(v)), nil
	case reflect.Bool:
		return reflect.ValueOf(Truthy(v)), nil
	}
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t)
}
