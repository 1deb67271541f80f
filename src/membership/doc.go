// Package membership implements the voting engine through which a section's
// elders agree on changes to the section.
//
// Every change is a Proposal. Elders sign the proposal's digest with their
// share of the section key and send the resulting Vote to each other. The
// Engine accumulates the votes of one authority (one SAP) and, once a
// supermajority of its elders agree, aggregates the shares into the section
// signature and returns a Decision. Proposals that compete for the same
// decision point are mutually exclusive: the first to commit wins and the
// others are refused from then on.
package membership
