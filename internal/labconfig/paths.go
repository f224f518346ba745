// Package labconfig resolves the environment-sourced configuration every
// top-level pytestlab component needs: catalog/profile search paths and
// the forced-global-simulation override. Every external input is read once,
// here, into a plain struct — nothing downstream reads an environment
// variable directly.
package labconfig

import "os"

// Paths holds the filesystem locations pytestlab consults for profiles and
// bench descriptors.
type Paths struct {
	ProfileCatalog string // PYTESTLAB_PROFILE_CATALOG_PATH
	BenchDir       string // PYTESTLAB_BENCH_DIRECTORY_PATH
	AuditLogDir    string // PYTESTLAB_AUDIT_LOG_DIRECTORY_PATH
}

// PathsFromEnv reads each path from its environment variable, falling back
// to the documented default when unset or empty.
func PathsFromEnv() Paths {
	return Paths{
		ProfileCatalog: envOr("PYTESTLAB_PROFILE_CATALOG_PATH", "/etc/pytestlab/profiles"),
		BenchDir:       envOr("PYTESTLAB_BENCH_DIRECTORY_PATH", "/etc/pytestlab/benches"),
		AuditLogDir:    envOr("PYTESTLAB_AUDIT_LOG_DIRECTORY_PATH", "/var/lib/pytestlab/audit"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ForceSimulateFromEnv resolves the single environment variable that forces
// global simulation, overriding any per-bench `simulate: false`. Per
// spec.md §9's redesign note, this is read exactly once, at Bench
// construction time, into the caller's Config struct — never consulted ad
// hoc elsewhere.
func ForceSimulateFromEnv() bool {
	v := os.Getenv("PYTESTLAB_FORCE_SIMULATE")
	return v == "1" || v == "true" || v == "TRUE"
}
