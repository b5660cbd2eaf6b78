// Package harness runs conformance scenarios against an EDDI service.
//
// A scenario prepares bots, drives versioned resources and conversations
// step by step, checks every response against its expect clause and
// finally evaluates assertions over the recorded HTTP trace and run log.
//
// # Scenario Format
//
// Scenarios are YAML files, checked against an embedded CUE schema and
// then decoded strictly:
//
//	name: behavior_crud
//	description: "create, read, update and delete a behavior set"
//	fixtures: fixtures
//	bots:
//	  - name: main
//	    dictionary: bot/dictionary.json
//	    behavior: bot/behavior.json
//	    output: bot/output.json
//	steps:
//	  - create: {collection: behavior, fixture: behavior/create.json}
//	  - update: {collection: behavior, fixture: behavior/update.json}
//	    expect: {version: 2, body: {"behaviorGroups[0].name": Smalltalk}}
//	  - conversation: {bot: main, as: c1}
//	  - say: {conversation: c1, input: hello, detailed: true}
//	    expect:
//	      order: {step: -1, keys: ["input:initial", "actions"]}
//	assertions:
//	  - type: trace_count
//	    method: DELETE
//	    count: 1
//
// Fixtures may reference earlier resources with {{id:alias}},
// {{version:alias}} and {{uri:alias}}.
//
// # Assertion Types
//
//   - trace_contains: an exchange matches method, path prefix and status
//   - trace_order: the first exchanges under each path prefix appear in order
//   - trace_count: exactly N exchanges match method and path prefix
//   - final_state: one row of the run log matches and has the expected values
//
// # Deterministic Traces
//
// Service-generated ids are replaced by their aliases in the trace, and
// setup exchanges are grouped per bot, so a scenario against a
// deterministic service produces the same trace on every run. Golden
// snapshots are compared as canonical JSON with goldie.
package harness
