package expr

import (
	"errors"
	"strings"
	"testing"
)

func testEnv() *Env {
	env := NewEnv(nil)
	env.Define("count", 5.0)
	env.Define("name", "Ada")
	env.Define("flag", true)
	env.Define("nothing", nil)
	env.Define("user", map[string]interface{}{
		"first": "Grace",
		"age":   47,
		"tags":  []interface{}{"a", "b"},
	})
	env.Define("items", []interface{}{"x", "y", "z"})
	return env
}

func TestEvalLiteralsAndArithmetic(t *testing.T) {
	tests := []struct {
		expr string
		want interface{}
	}{
		{"1", 1.0},
		{"1.5", 1.5},
		{"2e3", 2000.0},
		{"'hi'", "hi"},
		{`"hi"`, "hi"},
		{"true", true},
		{"false", false},
		{"null", nil},
		{"1 + 2 * 3", 7.0},
		{"(1 + 2) * 3", 9.0},
		{"10 / 4", 2.5},
		{"7 % 3", 1.0},
		{"-count", -5.0},
		{"!flag", false},
		{"!0", true},
		{"'A' + 'B'", "AB"},
		{"'n=' + 2", "n=2"},
		{"1 + '2'", "12"},
		{"2 - 1 - 1", 0.0},
	}
	env := testEnv()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvalString(tt.expr, env)
			if err != nil {
				t.Fatalf("EvalString(%q) error: %v", tt.expr, err)
			}
			if !StrictEquals(got, tt.want) {
				t.Errorf("EvalString(%q) = %#v, want %#v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalComparisons(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"5 > 3", true},
		{"3 > 5", false},
		{"count >= 5", true},
		{"count < 5", false},
		{"count <= 5", true},
		{"'abc' < 'abd'", true},
		{"'5' > 3", true},
		{"1 == 1", true},
		{"1 == '1'", true},
		{"1 === '1'", false},
		{"1 === 1", true},
		{"1 != 2", true},
		{"1 !== '1'", true},
		{"null == undefined", true},
		{"null === undefined", false},
		{"'x' == 'x'", true},
		{"flag && count > 1", true},
		{"!flag || count == 5", true},
	}
	env := testEnv()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvalString(tt.expr, env)
			if err != nil {
				t.Fatalf("EvalString(%q) error: %v", tt.expr, err)
			}
			if got != interface{}(tt.want) {
				t.Errorf("EvalString(%q) = %#v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalShortCircuitYieldsOperand(t *testing.T) {
	env := testEnv()
	got, err := EvalString("name && count", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5.0 {
		t.Errorf("name && count = %#v, want 5", got)
	}
	got, err = EvalString("'' || 'fallback'", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fallback" {
		t.Errorf("'' || 'fallback' = %#v, want fallback", got)
	}
}

func TestEvalTernary(t *testing.T) {
	env := testEnv()
	got, err := EvalString("count > 3 ? 'big' : 'small'", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "big" {
		t.Errorf("ternary = %#v, want big", got)
	}
	got, err = EvalString("count > 3 ? count > 4 ? 'a' : 'b' : 'c'", env)
	if err != nil {
		t.Fatalf("nested ternary error: %v", err)
	}
	if got != "a" {
		t.Errorf("nested ternary = %#v, want a", got)
	}
}

func TestEvalMemberAndIndex(t *testing.T) {
	tests := []struct {
		expr string
		want interface{}
	}{
		{"user.first", "Grace"},
		{"user.age", 47.0},
		{"user.tags[1]", "b"},
		{"user.tags.length", 2.0},
		{"items[0]", "x"},
		{"items['1']", "y"},
		{"items.length", 3.0},
		{"name.length", 3.0},
		{"name[1]", "d"},
		{"items[99]", Undefined},
		{"user.missing", Undefined},
	}
	env := testEnv()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvalString(tt.expr, env)
			if err != nil {
				t.Fatalf("EvalString(%q) error: %v", tt.expr, err)
			}
			if !StrictEquals(got, tt.want) {
				t.Errorf("EvalString(%q) = %#v, want %#v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalErrors(t *testing.T) {
	env := testEnv()
	tests := []struct {
		expr    string
		wantSub string
	}{
		{"missing", "undefined variable"},
		{"missing.member", "undefined variable"},
		{"user.absent.deep", `cannot read "deep" of undefined`},
		{"nothing.x", `cannot read "x" of null`},
		{"count(", "parse"},
		{"1 +", "parse"},
		{"'oops", "unterminated string"},
		{"count()", "not a function"},
		{"user.nope()", "no method"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvalString(tt.expr, env)
			if err == nil {
				t.Fatalf("EvalString(%q) = %#v, want error", tt.expr, got)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("EvalString(%q) error = %q, want substring %q", tt.expr, err, tt.wantSub)
			}
			if !IsUndefined(got) {
				t.Errorf("EvalString(%q) value = %#v, want Undefined", tt.expr, got)
			}
		})
	}
}

func TestEvalMultilineAndNestedBraces(t *testing.T) {
	env := testEnv()
	src := "count > 3\n  ? 'has {brace}'\n  : 'no'"
	got, err := EvalString(src, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "has {brace}" {
		t.Errorf("got %#v", got)
	}
}

func TestEvalAssignment(t *testing.T) {
	env := testEnv()
	if _, err := EvalString("count = 9", env); err != nil {
		t.Fatalf("assign error: %v", err)
	}
	if v, _ := env.Get("count"); v != 9.0 {
		t.Errorf("count = %#v after assignment, want 9", v)
	}

	if _, err := EvalString("user.first = 'Edith'", env); err != nil {
		t.Fatalf("member assign error: %v", err)
	}
	got, err := EvalString("user.first", env)
	if err != nil || got != "Edith" {
		t.Errorf("user.first = %#v (%v), want Edith", got, err)
	}

	if _, err := EvalString("items[1] = 'Y'", env); err != nil {
		t.Fatalf("index assign error: %v", err)
	}
	got, err = EvalString("items[1]", env)
	if err != nil || got != "Y" {
		t.Errorf("items[1] = %#v (%v), want Y", got, err)
	}

	// assigning an undeclared name creates it at the root scope
	if _, err := EvalString("fresh = 1", env); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, ok := env.Get("fresh"); !ok {
		t.Error("fresh not defined after assignment")
	}
}

func TestEvalAssignHook(t *testing.T) {
	env := NewEnv(nil)
	env.Define("guarded", 1.0)
	sentinel := errors.New("blocked")
	env.OnAssign(func(name string, v interface{}) error {
		return sentinel
	})
	_, err := EvalString("guarded = 2", env)
	if !errors.Is(err, sentinel) {
		t.Fatalf("hook error not preserved, got %v", err)
	}
	if v, _ := env.Get("guarded"); v != 1.0 {
		t.Errorf("guarded changed to %#v despite hook error", v)
	}
}

func TestEvalScopeShadowing(t *testing.T) {
	outer := NewEnv(nil)
	outer.Define("x", 1.0)
	outer.Define("y", 10.0)
	inner := NewEnv(outer)
	inner.Define("x", 2.0)

	got, err := EvalString("x + y", inner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 12.0 {
		t.Errorf("x + y = %#v, want 12", got)
	}

	// writing through the inner scope lands where the name lives
	if _, err := EvalString("y = 20", inner); err != nil {
		t.Fatalf("assign error: %v", err)
	}
	if v, _ := outer.Get("y"); v != 20.0 {
		t.Errorf("outer y = %#v, want 20", v)
	}
	if _, ok := inner.vars["y"]; ok {
		t.Error("assignment created a shadow copy in the inner scope")
	}
}

func TestEvalCallsGoFuncs(t *testing.T) {
	env := testEnv()
	env.Define("upper", strings.ToUpper)
	env.Define("join", func(sep string, parts ...string) string {
		return strings.Join(parts, sep)
	})
	env.Define("failing", func() (string, error) {
		return "", errors.New("boom")
	})

	got, err := EvalString("upper(name)", env)
	if err != nil || got != "ADA" {
		t.Errorf("upper(name) = %#v (%v), want ADA", got, err)
	}
	got, err = EvalString("join('-', 'a', 'b', 'c')", env)
	if err != nil || got != "a-b-c" {
		t.Errorf("join = %#v (%v), want a-b-c", got, err)
	}
	// numeric arguments convert to the parameter kind
	env.Define("double", func(n int) int { return n * 2 })
	got, err = EvalString("double(21)", env)
	if err != nil || got != 42.0 {
		t.Errorf("double(21) = %#v (%v), want 42", got, err)
	}
	if _, err = EvalString("failing()", env); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("failing() error = %v, want boom", err)
	}
}

func TestToStringFormatting(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{1.0, "1"},
		{1.5, "1.5"},
		{-3.0, "-3"},
		{"s", "s"},
		{true, "true"},
		{nil, "null"},
		{Undefined, "undefined"},
		{int64(7), "7"},
	}
	for _, tt := range tests {
		if got := ToString(tt.in); got != tt.want {
			t.Errorf("ToString(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruthy(t *testing.T) {
	truthy := []interface{}{1.0, -1.0, "x", true, []interface{}{}, map[string]interface{}{}}
	falsy := []interface{}{nil, Undefined, false, 0.0, ""}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("Truthy(%#v) = false, want true", v)
		}
	}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("Truthy(%#v) = true, want false", v)
		}
	}
}
