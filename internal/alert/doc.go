// Package alert holds the alert domain model and the pure decision logic
// around it: the lifecycle state machine, the distribution engine, viewer
// capabilities and the projection of available actions. Nothing here does
// I/O; callers load an alert, apply a decision to a copy and persist it.
package alert
