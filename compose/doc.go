// Package compose implements the workflow composition engine: DAG
// validation with cycle reporting, strict topological single-threaded
// execution, dependency-output input resolution, a restricted condition
// evaluator, per-step bounded retry, and best-effort compensation rollback
// in reverse completion order.
package compose
