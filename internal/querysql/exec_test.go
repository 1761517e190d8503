package querysql

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/journal"
	"github.com/roach88/prodsys/internal/query"
)

// shopFixture records a run whose snapshot holds two carts (f1 c1 ann,
// f2 c2 bo), three items (f3 apple c1 2, f4 pear c2 1, f5 fig c1 5) and
// an ordered fact f6 (tag c1 red).
type shopFixture struct {
	env   *engine.Environment
	j     *journal.Journal
	rec   *journal.Recorder
	runID string
}

func newShop(t *testing.T) *shopFixture {
	t.Helper()
	env, err := engine.New(engine.WithIDGenerator(engine.NewFixedGenerator("shop")))
	require.NoError(t, err)
	t.Cleanup(env.Close)

	_, err = env.DefineTemplate(ir.TemplateSpec{Name: "cart", Slots: []ir.SlotSpec{{Name: "id"}, {Name: "owner"}}})
	require.NoError(t, err)
	_, err = env.DefineTemplate(ir.TemplateSpec{Name: "item", Slots: []ir.SlotSpec{{Name: "cart"}, {Name: "sku"}, {Name: "qty"}}})
	require.NoError(t, err)

	for _, c := range [][2]string{{"c1", "ann"}, {"c2", "bo"}} {
		_, err := env.Assert(ir.Templated("cart",
			ir.SlotValue{Name: "id", Value: ir.Sym(c[0])},
			ir.SlotValue{Name: "owner", Value: ir.Sym(c[1])}))
		require.NoError(t, err)
	}
	for _, it := range []struct {
		cart, sku string
		qty       int64
	}{{"c1", "apple", 2}, {"c2", "pear", 1}, {"c1", "fig", 5}} {
		_, err := env.Assert(ir.Templated("item",
			ir.SlotValue{Name: "cart", Value: ir.Sym(it.cart)},
			ir.SlotValue{Name: "sku", Value: ir.Sym(it.sku)},
			ir.SlotValue{Name: "qty", Value: ir.Integer(it.qty)}))
		require.NoError(t, err)
	}
	_, err = env.AssertValues("tag", ir.Sym("c1"), ir.Sym("red"))
	require.NoError(t, err)

	j, err := journal.Open(filepath.Join(t.TempDir(), "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	rec, err := j.Record(t.Context(), env, journal.WithRunID("shop-run"))
	require.NoError(t, err)
	return &shopFixture{env: env, j: j, rec: rec, runID: rec.RunID()}
}

func indices(facts []journal.FactRecord) []int64 {
	out := make([]int64, len(facts))
	for i, f := range facts {
		out[i] = f.Index
	}
	return out
}

func TestExecMatchesInMemoryEvaluation(t *testing.T) {
	shop := newShop(t)
	bound := map[string]ir.Value{"want": ir.Sym("c2")}

	tests := []struct {
		name string
		q    query.Query
	}{
		{"all items", query.Select{Template: "item", As: "i", Bindings: map[string]string{"sku": "sku"}}},
		{"filter", query.Select{Template: "item", Filter: query.Equals{Slot: "cart", Value: ir.Sym("c1")}}},
		{"integer filter", query.Select{Template: "item", Filter: query.Equals{Slot: "qty", Value: ir.Integer(5)}}},
		{"no type coercion", query.Select{Template: "item", Filter: query.Equals{Slot: "qty", Value: ir.Float(5)}}},
		{"symbol is not string", query.Select{Template: "item", Filter: query.Equals{Slot: "sku", Value: ir.String("fig")}}},
		{"bound value", query.Select{Template: "item", Filter: query.BoundEquals{Slot: "cart", Var: "want"}}},
		{"join on slot", query.Join{
			Left:  query.Select{Template: "cart", Bindings: map[string]string{"id": "cid", "owner": "owner"}},
			Right: query.Select{Template: "item", Bindings: map[string]string{"sku": "sku"}},
			On:    query.BoundEquals{Slot: "cart", Var: "cid"},
		}},
		{"cross product", query.Chain(query.Select{Template: "cart", As: "c"}, query.Select{Template: "cart", As: "d"})},
		{"ordered facts", query.Join{
			Left:  query.Select{Template: "tag", Bindings: map[string]string{"implied": "fields"}},
			Right: query.Select{Template: "cart", Filter: query.Equals{Slot: "id", Value: ir.Sym("c1")}},
		}},
		{"nested join", query.Join{
			Left: query.Select{Template: "cart", Bindings: map[string]string{"id": "cid"}},
			Right: query.Join{
				Left:  query.Select{Template: "item", Filter: query.BoundEquals{Slot: "cart", Var: "cid"}, Bindings: map[string]string{"qty": "q"}},
				Right: query.Select{Template: "item", Bindings: map[string]string{"qty": "q2"}},
				On:    query.BoundEquals{Slot: "cart", Var: "cid"},
			},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := query.Eval(shop.env, tt.q, bound)
			require.NoError(t, err)

			c := NewSQLCompiler(shop.runID)
			c.BoundValues = bound
			got, err := c.Exec(t.Context(), shop.j, tt.q)
			require.NoError(t, err)

			require.Len(t, got, len(want))
			for i := range want {
				var idx []int64
				for _, f := range want[i].Facts {
					idx = append(idx, f.Index())
				}
				assert.Equal(t, idx, indices(got[i].Facts), "row %d", i)
				if diff := cmp.Diff(want[i].Vars, got[i].Vars, cmp.Comparer(ir.Equal)); diff != "" {
					t.Errorf("row %d vars (-memory +sql):\n%s", i, diff)
				}
			}
		})
	}
}

func TestExecDecodesFacts(t *testing.T) {
	shop := newShop(t)
	rows, err := NewSQLCompiler(shop.runID).Exec(t.Context(), shop.j, query.Select{
		Template: "tag",
		Bindings: map[string]string{"implied": "fields"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	f := rows[0].Facts[0]
	assert.Equal(t, "shop-run", f.RunID)
	assert.Equal(t, int64(6), f.Index)
	assert.Equal(t, "MAIN::tag", f.Template)
	assert.Equal(t, ir.Multi(ir.Sym("c1"), ir.Sym("red")), rows[0].Vars["fields"])
}

func TestExecAtSeq(t *testing.T) {
	shop := newShop(t)
	_, err := shop.env.AssertValues("tag", ir.Sym("c2"), ir.Sym("blue"))
	require.NoError(t, err)
	fig, ok := shop.env.FindFact(5)
	require.True(t, ok)
	_, err = shop.env.Modify(fig, []ir.SlotValue{{Name: "qty", Value: ir.Integer(9)}})
	require.NoError(t, err)
	pear, ok := shop.env.FindFact(4)
	require.True(t, ok)
	require.NoError(t, shop.env.Retract(pear))
	require.NoError(t, shop.rec.Close())

	events, err := shop.j.Events(t.Context(), shop.runID, journal.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, engine.EventModify, events[1].Type)
	modifySeq := events[1].Seq

	items := query.Select{Template: "item", Bindings: map[string]string{"qty": "qty"}}
	qtys := func(rows []Row) []ir.Value {
		var out []ir.Value
		for _, r := range rows {
			out = append(out, r.Vars["qty"])
		}
		return out
	}

	c := NewSQLCompiler(shop.runID)
	latest, err := c.Exec(t.Context(), shop.j, items)
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.Integer(2), ir.Integer(9)}, qtys(latest))

	c.AtSeq = modifySeq - 1
	before, err := c.Exec(t.Context(), shop.j, items)
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.Integer(2), ir.Integer(1), ir.Integer(5)}, qtys(before))

	c.AtSeq = modifySeq
	between, err := c.Exec(t.Context(), shop.j, items)
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.Integer(2), ir.Integer(1), ir.Integer(9)}, qtys(between))
}

func TestExecErrors(t *testing.T) {
	shop := newShop(t)
	_, err := NewSQLCompiler(shop.runID).Exec(t.Context(), shop.j, query.Select{
		Template: "item",
		Filter:   query.Func{Name: "odd"},
	})
	assert.Error(t, err)

	rows, err := NewSQLCompiler("other-run").Exec(t.Context(), shop.j, query.Select{Template: "item"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
