// Package constraints evaluates the site electrical envelope.
//
// The evaluator computes the capacity available for charging from the
// service entrance, feeder, and transformer headroom, and detects
// envelope violations on every measurement update. Violations are
// recorded through the store, which appends them to the bounded ring
// and publishes them on the violation topic.
package constraints
