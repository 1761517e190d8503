// Package harness runs conformance scenarios against a production
// system.
//
// A scenario names the CUE programs to load, optional engine settings,
// a flow of steps that assert facts and run the engine, and assertions
// over the resulting trace, working memory and output.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: restock
//	description: "Empty items are restocked once"
//	specs:
//	  - stock.cue
//	config:
//	  strategy: depth
//	facts:
//	  - "(item (name kiwi) (qty 0))"
//	flow:
//	  - run: 0
//	    expect:
//	      fired: 2
//	      output: "restocked kiwi\n"
//	assertions:
//	  - type: fired_order
//	    rules: [restock, report]
//	  - type: fact_present
//	    template: item
//	    where: { name: kiwi, qty: 5 }
//
// Spec paths are relative to the scenario file. The environment is reset
// after loading, then the facts are asserted. A scenario without a flow
// runs once with the configured run limit.
//
// # Assertion Types
//
//   - fired_count: exactly count rule firings in the whole scenario
//   - fired_order: the listed rules fired in this relative order
//   - trace_count: count events of a type, optionally for one rule
//   - fact_present: a live fact of template matches every where slot
//   - fact_absent: no live fact of template matches
//   - fact_count: count live facts of template match
//   - agenda_size: the agenda holds count activations at the end
//   - output: the text printed to stdout equals text, or contains contains
//
// Values in where clauses are source text, so kiwi is the symbol kiwi,
// "\"kiwi\"" the string "kiwi" and a YAML list a multifield.
//
// # Deterministic Testing
//
// Each scenario runs in a fresh environment whose ID is the scenario
// name and whose random generator is seeded from the config, so traces
// are identical across runs and can be compared with golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/restock.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
