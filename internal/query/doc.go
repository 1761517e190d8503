// Package query provides fact-set queries over working memory.
//
// A query is a small relational tree: Select picks the live facts of one
// template, Join pairs the rows of two queries, and predicates filter
// them. The same tree is evaluated in memory by Each and Eval, and
// compiled to SQL over a journal by package querysql.
//
//	[fact query builtins] → [Query] → [working memory]  (Eval)
//	                                → [journal SQLite]  (querysql)
//
// # Ordering
//
// Rows come out in assertion order. For a Join the left side varies
// slowest, so ((?a t) (?b t)) visits (f-1 f-1) (f-1 f-2) ... exactly as the
// nested loops of the fact query functions do.
//
// # Portable fragment
//
// Queries built from Select, Join, Equals, BoundEquals and And can run on
// both backends. Func predicates hold Go code and only run in memory;
// Validate reports them, together with other constructs querysql cannot
// compile, as warnings.
//
// Query and Predicate are sealed: only this package implements them, so
// backends can switch over every case.
package query
