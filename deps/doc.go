// Package deps implements the dependency resolver and auto-installer:
// direct version-conflict detection, supply-chain policy enforcement
// (typosquatting, dependency confusion, malicious lifecycle scripts), and
// sandboxed installation with hash-keyed artifact caching and
// timeout-bounded locking so concurrent identical requests build once.
//
// Transitive dependency resolution is deliberately out of scope; it is
// delegated to the underlying package manager inside the sandbox.
package deps
