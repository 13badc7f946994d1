// Package driven defines the interfaces that core calls out to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces and the storage adapters
// implement them.
//
// # Required Interfaces
//
//   - Store: put, get, delete, update, copy and inventory for one backend
//   - StoreFactory: creates stores from named service configuration
//   - SettingsStore: loads and saves the configuration file
//
// # Optional Capabilities
//
// Services detect these on stores with type assertions:
//
//   - SearchIndex: report search by query parameters
//   - SeriesIndex: series lookup by patient and time window
//   - ExistenceChecker: presence checks without fetching tags
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: any adapter package
package driven
