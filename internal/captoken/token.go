package captoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CheckTimeBefore is satisfied while the verifier's clock is strictly
// before the check's deadline: check if time($t), $t < Before.
const CheckTimeBefore = "time_before"

// Errors returned by Parse, Build and Authorize.
var (
	ErrMalformed        = errors.New("captoken: malformed token")
	ErrInvalidSignature = errors.New("captoken: invalid block signature")
	ErrInvalidProof     = errors.New("captoken: proof does not match last block")
	ErrCheckFailed      = errors.New("captoken: check failed")
	ErrNoPolicy         = errors.New("captoken: no policy matched")
	ErrNotAuthorized    = errors.New("captoken: query before successful authorization")
	ErrInvalidFact      = errors.New("captoken: invalid fact")
	ErrUnknownCheck     = errors.New("captoken: unknown check kind")
)

// Fact is a ground predicate such as user("0b5c...").
type Fact struct {
	Name  string   `cbor:"1,keyasint"`
	Terms []string `cbor:"2,keyasint,omitempty"`
}

// NewFact builds a fact from a predicate name and its terms.
func NewFact(name string, terms ...string) Fact {
	return Fact{Name: name, Terms: terms}
}

// Check is a condition evaluated at authorization time.
type Check struct {
	Kind string `cbor:"1,keyasint"`

	// Before is a Unix timestamp in seconds, used by CheckTimeBefore.
	Before int64 `cbor:"2,keyasint,omitempty"`
}

// TimeBefore returns a check that holds only while now < deadline.
func TimeBefore(deadline time.Time) Check {
	return Check{Kind: CheckTimeBefore, Before: deadline.Unix()}
}

// Block is the signed content of one link in the token chain.
type Block struct {
	Facts   []Fact  `cbor:"1,keyasint,omitempty"`
	Checks  []Check `cbor:"2,keyasint,omitempty"`
	NextKey []byte  `cbor:"3,keyasint"`
}

type signedBlock struct {
	Payload   []byte `cbor:"1,keyasint"`
	Signature []byte `cbor:"2,keyasint"`
}

type envelope struct {
	Blocks []signedBlock `cbor:"1,keyasint"`
	Proof  []byte        `cbor:"2,keyasint"`
}

// Token is a verified (or freshly built) capability token. Tokens are
// immutable; Attenuate returns a new Token.
type Token struct {
	blocks []Block
	signed []signedBlock
	proof  ed25519.PrivateKey
}

// Builder assembles the authority block of a new token.
type Builder struct {
	root  ed25519.PrivateKey
	block Block
}

// NewBuilder starts a token signed by the given root private key.
func NewBuilder(root ed25519.PrivateKey) *Builder {
	return &Builder{root: root}
}

// AddAuthorityFact adds a fact the issuer vouches for.
func (b *Builder) AddAuthorityFact(fact Fact) error {
	if fact.Name == "" {
		return ErrInvalidFact
	}
	b.block.Facts = append(b.block.Facts, fact)
	return nil
}

// AddAuthorityCheck adds a check to the authority block.
func (b *Builder) AddAuthorityCheck(check Check) error {
	if err := validateCheck(check); err != nil {
		return err
	}
	b.block.Checks = append(b.block.Checks, check)
	return nil
}

// Build signs the authority block and returns the token.
func (b *Builder) Build() (*Token, error) {
	if len(b.root) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("captoken: root key has %d bytes, want %d", len(b.root), ed25519.PrivateKeySize)
	}
	return appendBlock(nil, nil, b.root, b.block)
}

// Attenuate returns a copy of the token with one more block holding the
// given checks. The original token is left untouched.
func (t *Token) Attenuate(checks ...Check) (*Token, error) {
	for _, check := range checks {
		if err := validateCheck(check); err != nil {
			return nil, err
		}
	}
	return appendBlock(t.blocks, t.signed, t.proof, Block{Checks: checks})
}

// appendBlock signs block with signer, after giving it a fresh next key.
func appendBlock(blocks []Block, signed []signedBlock, signer ed25519.PrivateKey, block Block) (*Token, error) {
	nextPublic, nextPrivate, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("captoken: generating ephemeral key: %w", err)
	}
	block.NextKey = nextPublic

	payload, err := marshal(block)
	if err != nil {
		return nil, fmt.Errorf("captoken: encoding block: %w", err)
	}

	token := &Token{
		blocks: make([]Block, 0, len(blocks)+1),
		signed: make([]signedBlock, 0, len(signed)+1),
		proof:  nextPrivate,
	}
	token.blocks = append(append(token.blocks, blocks...), block)
	token.signed = append(append(token.signed, signed...), signedBlock{
		Payload:   payload,
		Signature: ed25519.Sign(signer, payload),
	})
	return token, nil
}

// Serialize encodes the token as unpadded base64url.
func (t *Token) Serialize() (string, error) {
	data, err := marshal(envelope{Blocks: t.signed, Proof: t.proof.Seed()})
	if err != nil {
		return "", fmt.Errorf("captoken: encoding envelope: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Parse decodes a serialized token and verifies its signature chain
// against root. Nothing from the token is returned unless every block
// signature and the proof are valid.
func Parse(encoded string, root ed25519.PublicKey) (*Token, error) {
	if len(root) != ed25519.PublicKeySize {
		return nil, ErrInvalidSignature
	}

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env envelope
	if err := unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Blocks) == 0 || len(env.Proof) != ed25519.SeedSize {
		return nil, ErrMalformed
	}

	token := &Token{
		blocks: make([]Block, 0, len(env.Blocks)),
		signed: env.Blocks,
	}

	verifier := root
	for i, sb := range env.Blocks {
		if !ed25519.Verify(verifier, sb.Payload, sb.Signature) {
			return nil, fmt.Errorf("%w: block %d", ErrInvalidSignature, i)
		}

		var block Block
		if err := unmarshal(sb.Payload, &block); err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrMalformed, i, err)
		}
		if len(block.NextKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: block %d next key", ErrMalformed, i)
		}
		if i > 0 && len(block.Facts) > 0 {
			return nil, fmt.Errorf("%w: block %d carries facts", ErrMalformed, i)
		}
		token.blocks = append(token.blocks, block)
		verifier = ed25519.PublicKey(block.NextKey)
	}

	proof := ed25519.NewKeyFromSeed(env.Proof)
	if !verifier.Equal(proof.Public()) {
		return nil, ErrInvalidProof
	}
	token.proof = proof

	return token, nil
}

// Blocks returns the number of blocks in the chain.
func (t *Token) Blocks() int {
	return len(t.blocks)
}

// AuthorityFacts returns a copy of the facts in the authority block.
func (t *Token) AuthorityFacts() []Fact {
	facts := make([]Fact, len(t.blocks[0].Facts))
	copy(facts, t.blocks[0].Facts)
	return facts
}

func validateCheck(check Check) error {
	switch check.Kind {
	case CheckTimeBefore:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCheck, check.Kind)
	}
}
