// Package oocexperiments holds build metadata for the oocbench harness.
package oocexperiments

// Version is the oocbench release version.
const Version = "v0.4.0"
