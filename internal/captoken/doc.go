// Package captoken implements signed, attenuable capability tokens.
//
// A token is a chain of blocks. The first (authority) block carries the
// facts the issuer vouches for and the checks that must hold for the
// token to be usable; it is signed with the issuer's root Ed25519 key.
// Every block names an ephemeral public key, and the next block must be
// signed with the matching private key. The private half of the last
// ephemeral key travels with the token as its proof, which lets any
// holder append a block (attenuate) without contacting the issuer.
// Attenuation blocks only carry checks, so they can narrow what a token
// grants but never widen it.
//
// # Wire format
//
// The envelope is CBOR (Core Deterministic Encoding) and is transported
// as unpadded base64url:
//
//	envelope = { 1: [ {1: payload, 2: signature}, ... ], 2: proof-seed }
//	payload  = CBOR(Block)
//
// # Authorization
//
// Verification is two-phase. Parse checks the signature chain and the
// proof. An Authorizer then loads the authority facts, takes the current
// time as an ambient fact, and requires both an allow policy and every
// check from every block to succeed before any Query is answered.
package captoken
