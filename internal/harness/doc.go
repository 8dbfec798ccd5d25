// Package harness runs workflow scenarios end to end.
//
// A scenario loads CUE workflow files into a fresh in-memory store, wires
// the real engine to fake messaging and e-signature services, replays a
// list of entity transitions and checks assertions against the outcomes
// and the resulting records.
//
// # Scenario Format
//
//	name: contract-signed
//	description: "Signing a contract moves the job to production"
//	workflows:
//	  - ../workflows/contract_signed.cue
//	failures: [messenger]        # optional: messenger, signer
//	steps:
//	  - object: Opportunity
//	    event: UPDATE
//	    entity_id: opp-1
//	    old: { status: PENDING }
//	    new: { status: SIGNED, contractTotal: 12500 }
//	    related:
//	      contact: { email: ana@example.com }
//	  - advance: 24h
//	    sweep: true
//	assertions:
//	  - type: outcome
//	    definition: contract-signed
//	    action: welcome-email
//	    status: SUCCEEDED
//	  - type: commission_count
//	    count: 1
//
// Workflow paths are relative to the scenario file. Every run uses a
// fixed clock and sequential ids, so results can be compared against
// golden files.
package harness
