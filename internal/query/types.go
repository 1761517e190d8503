package query

import "github.com/roach88/prodsys/internal/ir"

// Query is a node of a fact query.
type Query interface {
	queryNode()
}

// Predicate filters the rows of a query.
type Predicate interface {
	predicateNode()
}

// Select reads the live facts of one template.
//
// As names the variable bound to each fact's address. Bindings maps slot
// names to the variables receiving their values; ordered facts expose
// their fields as the single slot "implied".
type Select struct {
	Template string
	As       string
	Filter   Predicate
	Bindings map[string]string
}

func (Select) queryNode() {}

// Join pairs every row of Left with every row of Right for which On
// holds. On sees the variables of both sides.
type Join struct {
	Left  Query
	Right Query
	On    Predicate
}

func (Join) queryNode() {}

// Equals holds when a slot of the current fact equals a literal.
type Equals struct {
	Slot  string
	Value ir.Value
}

func (Equals) predicateNode() {}

// BoundEquals holds when a slot of the current fact equals a variable
// bound earlier: by the left side of a join or by the caller.
type BoundEquals struct {
	Slot string
	Var  string
}

func (BoundEquals) predicateNode() {}

// And holds when every predicate holds; an empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Func is a predicate implemented in Go, evaluated against the row built
// so far. It is not portable to SQL.
type Func struct {
	Name string
	Fn   func(Row) (bool, error)
}

func (Func) predicateNode() {}

// Chain joins one Select per entry, left to right, with no join
// condition. It is the shape of a fact-set template list.
func Chain(selects ...Select) Query {
	if len(selects) == 0 {
		return nil
	}
	var q Query = selects[0]
	for _, s := range selects[1:] {
		q = Join{Left: q, Right: s}
	}
	return q
}
