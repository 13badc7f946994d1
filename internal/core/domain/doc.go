// Package domain defines the core entities of DixelKit.
//
// This package is the innermost layer of the hexagon. It defines:
//
//   - Dixel: a DICOM entity at patient, study, series or instance level
//   - Set: dixels deduplicated by identifier
//   - Worklist: CSV rows reconciled against stores
//   - Report: the tally of a batch operation
//   - Settings: the named service configuration
//
// # Import Rules
//
//   - Can Import: standard library and github.com/google/uuid for run ids
//   - Cannot Import: any internal/ package
package domain
