package lib

// Overridden at build time with -ldflags "-X github.com/convergence-platform/convergence-migration-runner-for-go.LIBRARY_VERSION=..."
var LIBRARY_VERSION = "1.0.0"
var LIBRARY_VERSION_HASH = "development"
var LIBRARY_BUILD_DATE = "unknown"
