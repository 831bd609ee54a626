// Package common holds process-wide identifiers shared by the binaries.
package common

// PackageName is used as the metrics namespace and in log output.
const PackageName = "kanon"

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"
