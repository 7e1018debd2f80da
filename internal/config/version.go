package config

// Version is the topograph binary version.
// Set at build time via: -ldflags "-X github.com/persistorai/topograph/internal/config.Version=<tag>"
var Version = "dev"
