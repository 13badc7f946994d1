// Package services implements the driving port interfaces.
// Services orchestrate batch operations over driven stores and tally
// every item in a domain.Report.
package services
