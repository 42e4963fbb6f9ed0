// Package app wires the request and submission workflow engine: schema
// and template management, request issuance and recipient tracking,
// response workspaces, the sign-off gate, sealed submissions with
// grant-mediated access, clarification threads and the audit ledger.
//
// Services depend on small store interfaces declared in storage; the
// memory and postgres packages provide interchangeable implementations.
// Background work (the deadline sweeper) runs under the system manager
// so start and stop ordering stays deterministic.
package app
