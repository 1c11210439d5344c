// Package settings carries per-request conversion options and the
// process-wide defaults they are derived from.
package settings

import "sync"

// Settings is the process-wide configuration snapshot consumed when a new
// conversion request is set up. It is read far more often than it changes,
// so access goes through Current/Replace rather than exposing the value.
type Settings struct {
	// EnableRuleGen enables the rule generator for exports
	EnableRuleGen bool

	// OverwriteOriginalRules replaces the target's own rules on export
	OverwriteOriginalRules bool

	// SurgeSSRPath is the path to the Surge SSR helper binary
	SurgeSSRPath string

	// ClashProxiesStyle is the YAML style used for Clash proxy lists
	ClashProxiesStyle string

	// ClashProxyGroupsStyle is the YAML style used for Clash proxy groups
	ClashProxyGroupsStyle string
}

var (
	globalMu sync.RWMutex
	global   Settings
)

// Current returns the process-wide settings snapshot.
func Current() Settings {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Replace installs a new process-wide settings snapshot. Requests already
// in flight keep the defaults they captured at construction time.
func Replace(s Settings) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = s
}
