// Package identity derives deterministic, origin-scoped signing identities.
//
// Every key is a pure function of the root secret and a domain-separated salt
// built from (namespace, context key, mask index). Nothing here is cached or
// persisted: calling DeriveIdentity twice with the same inputs always yields
// byte-identical keys.
package identity
