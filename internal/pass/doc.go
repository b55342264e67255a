// Package pass implements the graph rewrites and analyses the optimizer
// runs over a plan.
//
// Every pass has the same contract: Run mutates the graph in place, leaves
// it acyclic and reports failures through the planerr taxonomy. Passes
// recurse into nested graphs where their rewrite applies there too.
//
// Passes are looked up by name in a Registry. The registry is an explicit
// table built by NewRegistry; nothing registers itself at init time.
package pass
