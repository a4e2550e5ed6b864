package app

// version is set at build time through ldflags.
var version = "dev"
