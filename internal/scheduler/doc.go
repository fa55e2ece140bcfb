// Package scheduler drives periodic, isolated, timeout-bounded invocation of
// registered collectors and owns the execution log and health bookkeeping
// that collection outcomes feed. One slow or misbehaving collector never
// delays or aborts the others.
package scheduler
