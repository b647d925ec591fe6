/*
Package scheduler turns capacity requests into provisioning attempts.

A request names a pool, a label expression and the number of executors
still missing. The scheduler walks the pool's templates in order:

	┌──────────────── ProvisionLock held ────────────────┐
	│  1. first template matching the label whose        │
	│     instance cap is not reached                    │
	│  2. generate terrapool-<pool>-<template>-<uuid>    │
	│  3. reserve the name in the registry               │
	│  4. start the attempt goroutine                    │
	│  5. excess -= template executors; repeat           │
	└────────────────────────┬───────────────────────────┘
	                         │ returns []*PlannedAgent
	                         ▼
	┌──────────────── attempt goroutine ─────────────────┐
	│  terraform init / get / apply    (no lock)         │
	│  registry attach or release      (lock)            │
	│  connection handshake            (no lock)         │
	│  handshake failure → terminate                     │
	└────────────────────────────────────────────────────┘

# Instance caps

The cap of a template counts every registered agent whose name decodes to
that pool and template, including reserved names whose terraform is still
running. Since reservation happens under the same lock as the cap check,
concurrent requests cannot overshoot a cap. A cap of 0 means uncapped.

# Lock scope

ProvisionLock is one process-wide mutex shared by every pool. It is held
only for template selection and registry mutation, never while terraform
runs, so attempts provision in parallel.
*/
package scheduler
