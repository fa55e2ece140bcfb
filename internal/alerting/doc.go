// Package alerting contains the alert engine: the evaluator that applies
// threshold rules to current metric values on its own cadence, the lifecycle
// service that owns all alert state transitions and enforces the dedup and
// cooldown invariants, and the pluggable value sources that map a rule's
// resource type to concrete resources.
package alerting
