package envelope

// Canonical returns the deterministic byte form used for signing
// §4.1). It carries only version, ts_ns, idempotency_key, and the single
// populated payload variant — Sig and PrevSig are never part of it, so
// re-signing (or tampering with the signature fields alone) never changes
// the canonical bytes.
func Canonical(e *Envelope) ([]byte, error) {
	return e.marshalWith(false)
}
