package runtime

import (
	"os"
	"sync"
)

// strictOperatorModeOnce caches the strict operator mode check at startup.
var (
	strictOperatorModeOnce  sync.Once
	strictOperatorModeValue bool
)

// ResetStrictOperatorModeCache resets the cached strict operator mode value.
// This should only be used in tests.
func ResetStrictOperatorModeCache() {
	strictOperatorModeOnce = sync.Once{}
	strictOperatorModeValue = false
}

// StrictOperatorMode returns true when the daemon should fail closed on
// operator-configurable trust boundaries: the egress allowlist must be
// non-empty and the webhook HMAC secret must be set, or startup refuses to
// proceed (spec §4.7 / §6: egress and webhook callbacks are both signed
// trust boundaries, not optional hardening).
//
// Production always runs strict. LEDGER_FORCE_STRICT=1 lets an operator
// opt a non-production environment into the same checks, so a mis-set
// LEDGER_ENV cannot silently weaken the boundary.
func StrictOperatorMode() bool {
	strictOperatorModeOnce.Do(func() {
		forced := ParseBoolValue(os.Getenv("LEDGER_FORCE_STRICT"))
		strictOperatorModeValue = Env() == Production || forced
	})
	return strictOperatorModeValue
}
