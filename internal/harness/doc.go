// Package harness runs YAML import scenarios against an in-memory manager.
//
// # Scenario Format
//
//	name: upsert_by_id
//	description: "Re-importing a key updates the existing record"
//	schema:
//	  - ../../schema/testmodel.cue   # relative to the scenario file
//	cue: |                           # optional inline CUE
//	  entity: Tag: {key: "name", fields: name: {type: "string"}}
//	skip_unchanged: false
//	steps:
//	  - import: TestModel
//	    payloads:
//	      - {id: "1", name: "A"}
//	    expect:
//	      outcome: ok                # ok|validation_error|precondition_error|backend_error
//	      keys: ["1"]
//	      created: 1
//	assertions:
//	  - type: count
//	    kind: TestModel
//	    count: 1
//	  - type: record
//	    kind: TestModel
//	    key: "1"
//	    version: 1
//	    fields: {name: "A"}
//
// # Assertion Types
//
//   - count: number of committed records of kind
//   - record: record with key exists; optional version and field subset match
//   - absent: no record with key
//   - batches: number of committed import batches of kind
//
// # Deterministic Execution
//
// Every run uses a fresh memstore with a deterministic clock and batch ids
// batch-1, batch-2, ... so snapshots compare byte for byte.
package harness
