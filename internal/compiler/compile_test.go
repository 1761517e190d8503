package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/ir"
)

const peopleSource = `
template: person: {
	comment: "a person"
	slots: {
		name: {type: "STRING", default: "?NONE"}
		age: {type: ["INTEGER"], range: [0, "*"], default: 0}
		tags: {multi: true, type: "SYMBOL", cardinality: [0, 3]}
		mood: {type: "SYMBOL", allowed: ["happy", "sad"], default: "happy"}
	}
}

global: threshold: 18

facts: people: [
	"(person (name \"Ann\") (age 12))",
	"(person (name \"Bo\") (age 40))",
]

rule: minor: {
	comment: "report minors"
	salience: 10
	when: [
		"?p <- (person (name ?n) (age ?a&:(< ?a ?*threshold*)))",
		"(not (reported ?n))",
	]
	then: [
		"(printout t ?n \" is a minor\" crlf)",
		{assert: {relation: "reported", fields: ["?n"]}},
	]
}
`

func TestCompileProgram(t *testing.T) {
	prog, err := CompileString(peopleSource, "people.cue")
	require.NoError(t, err)
	assert.Equal(t, 4, prog.Len())

	require.Len(t, prog.Templates, 1)
	tpl := prog.Templates[0]
	assert.Equal(t, "person", tpl.Name)
	assert.Equal(t, "a person", tpl.Comment)
	require.Len(t, tpl.Slots, 4)
	assert.Equal(t, []string{"name", "age", "tags", "mood"}, slotNames(tpl))

	name := tpl.Slots[0]
	assert.Equal(t, ir.DefaultNone, name.Default.Mode)
	assert.True(t, name.Types.Allows(ir.KindString))
	assert.False(t, name.Types.Allows(ir.KindSymbol))

	age := tpl.Slots[1]
	require.NotNil(t, age.Range)
	assert.Equal(t, ir.Integer(0), age.Range.Min)
	assert.Nil(t, age.Range.Max)
	assert.Equal(t, ir.DefaultStatic, age.Default.Mode)
	assert.Equal(t, []ir.Expr{ir.Const(ir.Integer(0))}, age.Default.Exprs)

	tags := tpl.Slots[2]
	assert.True(t, tags.Multi)
	assert.Equal(t, &ir.Cardinality{Min: 0, Max: 3}, tags.Cardinality)

	mood := tpl.Slots[3]
	assert.Equal(t, []ir.Value{ir.Sym("happy"), ir.Sym("sad")}, mood.Allowed)

	require.Len(t, prog.Globals, 1)
	assert.Equal(t, ir.GlobalSpec{Name: "threshold", Value: ir.Const(ir.Integer(18))}, prog.Globals[0])

	require.Len(t, prog.Deffacts, 1)
	assert.Equal(t, "people", prog.Deffacts[0].Name)
	require.Len(t, prog.Deffacts[0].Facts, 2)
	assert.Equal(t, `(person (name "Ann") (age 12))`, prog.Deffacts[0].Facts[0].String())

	require.Len(t, prog.Rules, 1)
	r := prog.Rules[0]
	assert.Equal(t, "minor", r.Name)
	require.NotNil(t, r.Salience)
	assert.Equal(t, ir.Const(ir.Integer(10)), *r.Salience)
	require.Len(t, r.Conditions, 2)
	assert.Equal(t, "p", r.Conditions[0].Binding)
	assert.Equal(t, ir.CondNot, r.Conditions[1].Kind)
	require.Len(t, r.Actions, 2)
	assert.Equal(t, `(printout t ?n " is a minor" crlf)`, r.Actions[0].String())
	assert.Equal(t, `(assert (reported ?n))`, r.Actions[1].String())
}

func slotNames(t ir.TemplateSpec) []string {
	out := make([]string, len(t.Slots))
	for i, s := range t.Slots {
		out[i] = s.Name
	}
	return out
}

func TestCompileModules(t *testing.T) {
	prog, err := CompileString(`
module: MAIN: export: [{construct: "deftemplate"}]
module: REPORT: {
	comment: "reporting"
	import: [{module: "MAIN", construct: "deftemplate", names: ["person"]}]
}
rule: "REPORT::say": {
	when: ["(person (name ?n))"]
	then: ["(printout t ?n crlf)"]
}
facts: seed: {module: "REPORT", facts: ["(go)"]}
global: limit: {module: "REPORT", value: "(+ 1 2)"}
`, "modules.cue")
	require.NoError(t, err)

	require.Len(t, prog.Modules, 2)
	assert.Equal(t, []ir.PortSpec{{Construct: ir.ConstructTemplate}}, prog.Modules[0].Exports)
	assert.Equal(t, "reporting", prog.Modules[1].Comment)
	assert.Equal(t, []ir.PortSpec{{Module: "MAIN", Construct: ir.ConstructTemplate, Names: []string{"person"}}}, prog.Modules[1].Imports)

	require.Len(t, prog.Rules, 1)
	assert.Equal(t, "REPORT", prog.Rules[0].Module)
	assert.Equal(t, "say", prog.Rules[0].Name)
	assert.Equal(t, "REPORT", prog.Deffacts[0].Module)
	assert.Equal(t, "REPORT", prog.Globals[0].Module)
	assert.Equal(t, "(+ 1 2)", prog.Globals[0].Value.String())
}

func TestCompileCallForms(t *testing.T) {
	prog, err := CompileString(`
rule: r: {
	salience: "(+ 1 ?*base*)"
	auto_focus: true
	when: ["?c <- (counter (n ?n))"]
	then: [
		{call: "printout", args: ["t", "?n", "crlf"]},
		{modify: "?c", slots: {n: "(+ ?n 1)"}},
		{duplicate: "?c", slots: {n: 0}},
		{assert: {template: "counter", slots: {n: [1]}}},
		{assert: "(seen ?n)"},
		["a", 1],
	]
}
`, "forms.cue")
	require.NoError(t, err)
	r := prog.Rules[0]
	assert.True(t, r.AutoFocus)
	assert.Equal(t, "(+ 1 ?*base*)", r.Salience.String())

	var got []string
	for _, a := range r.Actions {
		got = append(got, a.String())
	}
	assert.Equal(t, []string{
		"(printout t ?n crlf)",
		"(modify ?c (n (+ ?n 1)))",
		"(duplicate ?c (n 0))",
		"(assert (counter (n 1)))",
		"(assert (seen ?n))",
		"(create$ a 1)",
	}, got)
}

func TestCompileDynamicDefault(t *testing.T) {
	prog, err := CompileString(`
template: ticket: slots: {
	id: {default_dynamic: "(gensym)"}
	tags: {multi: true, default: ["a", "b"]}
}
`, "defaults.cue")
	require.NoError(t, err)
	slots := prog.Templates[0].Slots
	assert.Equal(t, ir.DefaultDynamic, slots[0].Default.Mode)
	assert.Equal(t, []ir.Expr{ir.Call("gensym")}, slots[0].Default.Exprs)
	assert.Equal(t, ir.DefaultStatic, slots[1].Default.Mode)
	assert.Len(t, slots[1].Default.Exprs, 2)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"bad condition", `rule: r: {when: ["(a ?x"], then: []}`, "rule.r.when[0]"},
		{"condition not a string", `rule: r: {when: [1], then: []}`, "rule.r.when[0]"},
		{"bad action", `rule: r: {then: ["(f"]}`, "rule.r.then[0]"},
		{"unknown struct form", `rule: r: {then: [{foo: 1}]}`, "rule.r.then[0].expr"},
		{"unknown type", `template: t: slots: s: {type: "COLOR"}`, "template.t.slots.s.type"},
		{"bad range", `template: t: slots: s: {range: [1]}`, "template.t.slots.s.range"},
		{"exclusive defaults", `template: t: slots: s: {default: 1, default_dynamic: "(gensym)"}`, "template.t.slots.s.default_dynamic"},
		{"bad fact", `facts: f: ["(a"]`, "facts.f.facts"},
		{"import without module", `module: M: import: [{construct: "deftemplate"}]`, "module.M.import.module"},
		{"conflicting module", `rule: "A::r": {module: "B", then: ["(halt)"]}`, "rule.A::r.module"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src, "bad.cue")
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
			assert.True(t, errors.Is(err, ir.ErrParsing))
		})
	}
}

func TestCompileCUEError(t *testing.T) {
	_, err := CompileString(`global: x: 1 & 2`, "conflict.cue")
	require.Error(t, err)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Message, "conflicting values")
}

func TestCompileValue(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
#Person: {type: "STRING"}
template: person: slots: name: #Person
`)
	prog, err := Compile(v)
	require.NoError(t, err)
	require.Len(t, prog.Templates, 1)
	assert.True(t, prog.Templates[0].Slots[0].Types.Allows(ir.KindString))

	sub := v.LookupPath(cue.ParsePath("template"))
	assert.True(t, sub.Exists())
}

func TestCompileEmpty(t *testing.T) {
	prog, err := CompileString(``, "empty.cue")
	require.NoError(t, err)
	assert.Zero(t, prog.Len())
}
