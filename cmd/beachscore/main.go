// Package main provides the beachscore CLI.
//
// beachscore scores a catalog of beaches against current weather and the
// official flag and hazard feed, and writes a ranked JSON snapshot.
//
// Usage:
//
//	beachscore run              # one pass, exit 1 when aborted
//	beachscore serve            # scheduled runs plus /healthz, /readyz, /metrics, /snapshot
//	beachscore check            # connectivity diagnostics, nothing written
//
// Configuration is read from the environment; see internal/config.
package main

func main() {
	Execute()
}
