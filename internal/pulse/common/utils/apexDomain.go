package utils

import "golang.org/x/net/publicsuffix"

// RegistrableDomain returns the eTLD+1 for a hostname ("www.example.co.uk" -> "example.co.uk").
// Falls back to the canonical name itself when the public suffix list cannot answer,
// e.g. for single-label hosts or IP literals.
func RegistrableDomain(name string) string {
	name = CanonicalHost(name)
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}
