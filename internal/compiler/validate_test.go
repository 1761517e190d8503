package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/ir"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func mustCompile(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := CompileString(src, "test.cue")
	require.NoError(t, err)
	return prog
}

func TestValidateProgramValid(t *testing.T) {
	prog := mustCompile(t, peopleSource)
	assert.Empty(t, Validate(prog))
}

func TestValidateProgram(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "range bounds",
			src:  `template: t: slots: a: {range: [5, 1]}`,
			want: []string{ErrInvalidBounds},
		},
		{
			name: "cardinality bounds",
			src:  `template: t: slots: a: {multi: true, cardinality: [3, 1]}`,
			want: []string{ErrInvalidBounds},
		},
		{
			name: "default type",
			src:  `template: t: slots: a: {type: "INTEGER", default: "abc"}`,
			want: []string{ErrDefaultMismatch},
		},
		{
			name: "default not allowed",
			src:  `template: t: slots: a: {allowed: ["x", "y"], default: "z"}`,
			want: []string{ErrDefaultMismatch},
		},
		{
			name: "unbound action variable",
			src:  `rule: r: {when: ["(a ?x)"], then: ["(printout t ?y crlf)"]}`,
			want: []string{ErrUnboundVariable},
		},
		{
			name: "negated variable",
			src:  `rule: r: {when: ["(a)", "(not (b ?z))"], then: ["(printout t ?z crlf)"]}`,
			want: []string{ErrNegatedVariable},
		},
		{
			name: "bind and foreach introduce variables",
			src: `rule: r: {
				when: ["(a $?xs)"]
				then: ["(bind ?y 1)", "(foreach ?x $?xs (printout t ?x ?x-index ?y crlf))"]
			}`,
			want: nil,
		},
		{
			name: "salience range",
			src:  `rule: r: {salience: 20000, then: ["(halt)"]}`,
			want: []string{ErrSalienceRange},
		},
		{
			name: "empty rule is not an error",
			src:  `rule: r: {when: ["(a)"]}`,
			want: nil,
		},
		{
			name: "unknown template in slot pattern",
			src:  `rule: r: {when: ["(ghost (x 1))"], then: ["(halt)"]}`,
			want: []string{ErrUnknownTemplate},
		},
		{
			name: "unknown slot",
			src: `template: p: slots: x: {}
			rule: r: {when: ["(p (y 1))"], then: ["(halt)"]}`,
			want: []string{ErrUnknownSlot},
		},
		{
			name: "unknown slot in asserted fact",
			src: `template: p: slots: x: {}
			rule: r: {then: ["(assert (p (z 1)))"]}`,
			want: []string{ErrUnknownSlot},
		},
		{
			name: "unknown slot in deffacts",
			src: `template: p: slots: x: {}
			facts: f: ["(p (z 1))"]`,
			want: []string{ErrUnknownSlot},
		},
		{
			name: "test before binding",
			src:  `rule: r: {when: ["(test (> ?x 1))", "(a ?x)"], then: ["(halt)"]}`,
			want: []string{ErrUnboundPredicate},
		},
		{
			name: "predicate before binding",
			src:  `rule: r: {when: ["(a ?x&:(> ?x ?y))", "(b ?y)"], then: ["(halt)"]}`,
			want: []string{ErrUnboundPredicate},
		},
		{
			name: "fact variable reused",
			src:  `rule: r: {when: ["?f <- (a ?f)"], then: ["(halt)"]}`,
			want: []string{ErrBindingVariable},
		},
		{
			name: "unknown module",
			src:  `rule: r: {module: "NOPE", then: ["(halt)"]}`,
			want: []string{ErrUnknownModule},
		},
		{
			name: "import from undeclared module",
			src:  `module: A: import: [{module: "B"}]`,
			want: []string{ErrUnknownModule},
		},
		{
			name: "bad port",
			src:  `module: A: export: [{construct: "defrule"}]`,
			want: []string{ErrInvalidPort},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(mustCompile(t, tt.src))
			if tt.want == nil {
				assert.Empty(t, errs)
				return
			}
			assert.Equal(t, tt.want, codes(errs), "%v", errs)
		})
	}
}

func TestValidateDuplicates(t *testing.T) {
	prog := &Program{
		Templates: []ir.TemplateSpec{
			{Name: "t", Slots: []ir.SlotSpec{{Name: "a"}, {Name: "a"}}},
			{Name: "t"},
		},
		Deffacts: []ir.DeffactsSpec{{Name: "d"}, {Name: "d"}},
		Rules: []ir.RuleSpec{
			{Name: "r", Actions: []ir.Expr{ir.Call("halt")}},
			{Name: "r", Actions: []ir.Expr{ir.Call("halt")}},
		},
	}
	assert.Equal(t, []string{ErrDuplicateSlot, ErrDuplicateName, ErrDuplicateName, ErrDuplicateName}, codes(Validate(prog)))
}

func TestValidateStructural(t *testing.T) {
	errs := Validate(ir.TemplateSpec{Slots: []ir.SlotSpec{{}}})
	assert.Equal(t, []string{ErrRequiredField, ErrRequiredField}, codes(errs))

	errs = Validate(ir.RuleSpec{Name: "?bad", Actions: []ir.Expr{ir.Call("halt")}})
	assert.Equal(t, []string{ErrInvalidName}, codes(errs))

	errs = Validate(ir.GlobalSpec{Name: "ok", Value: ir.Const(ir.Integer(1))})
	assert.Empty(t, errs)
}

func TestValidateUnsupported(t *testing.T) {
	errs := Validate(42)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedType, errs[0].Code)
	assert.Contains(t, errs[0].Error(), "int")
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "rule.r", Message: "rule has no actions", Code: ErrEmptyRule}
	assert.Equal(t, "[E213] rule.r: rule has no actions", e.Error())
	e.Line = 7
	assert.Equal(t, "[E213] line 7: rule.r: rule has no actions", e.Error())
}
