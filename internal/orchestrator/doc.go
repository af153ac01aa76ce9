// Package orchestrator sequences one training run: build the ruleset and
// training bundles, launch the browser, execute the training bundle, and
// report the result. Every resource acquired along the way is released on
// all exit paths.
package orchestrator
