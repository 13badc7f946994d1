// Package driving defines the interfaces the CLI uses to drive core
// services: inventory copies and worklist reconciliation.
//
// Implementations live in internal/core/services.
package driving
