package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/jornet-server/internal/captoken"
	"github.com/jornet-server/internal/domain"
)

// DefaultTTL is how long an issued admin token stays valid
const DefaultTTL = 600 * time.Second

// queryHead and claimPredicate form the subject query data($id) <- user($id)
const (
	queryHead      = "data"
	claimPredicate = "user"
)

// Config holds everything an Engine needs for its lifetime
type Config struct {
	PrivateKey ed25519.PrivateKey
	TTL        time.Duration

	// Now defaults to time.Now. Tests inject a fixed or advancing clock.
	Now func() time.Time
}

// Engine issues and verifies admin capability tokens with one keypair
type Engine struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	now     func() time.Time
}

// NewEngine creates a token engine from an explicit configuration
func NewEngine(cfg Config) (*Engine, error) {
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(cfg.PrivateKey), ed25519.PrivateKeySize)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		private: cfg.PrivateKey,
		public:  cfg.PrivateKey.Public().(ed25519.PublicKey),
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}, nil
}

// PublicKey returns the key tokens are verified against
func (e *Engine) PublicKey() ed25519.PublicKey {
	return e.public
}

// Issue builds a token stating user(<id>) that expires after the TTL
func (e *Engine) Issue(subject domain.AdminAccount) (string, error) {
	builder := captoken.NewBuilder(e.private)
	if err := builder.AddAuthorityFact(ToClaim(subject)); err != nil {
		return "", fmt.Errorf("adding subject fact: %w", err)
	}
	if err := builder.AddAuthorityCheck(captoken.TimeBefore(e.now().Add(e.ttl))); err != nil {
		return "", fmt.Errorf("adding expiry check: %w", err)
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("building token: %w", err)
	}
	encoded, err := token.Serialize()
	if err != nil {
		return "", fmt.Errorf("serializing token: %w", err)
	}
	return encoded, nil
}

// Verify checks a token and recovers its subject. Every failure wraps
// domain.ErrUnauthenticated; callers must not expose the cause.
func (e *Engine) Verify(encoded string) (domain.AdminAccount, error) {
	account, err := e.verify(encoded)
	if err != nil {
		return domain.AdminAccount{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return account, nil
}

func (e *Engine) verify(encoded string) (domain.AdminAccount, error) {
	if encoded == "" {
		return domain.AdminAccount{}, errors.New("empty token")
	}

	token, err := captoken.Parse(encoded, e.public)
	if err != nil {
		return domain.AdminAccount{}, err
	}

	authorizer := token.Authorizer(e.now())
	authorizer.Allow()
	if err := authorizer.Authorize(); err != nil {
		return domain.AdminAccount{}, err
	}

	results, err := authorizer.Query(queryHead, claimPredicate)
	if err != nil {
		return domain.AdminAccount{}, err
	}
	claims := make([][]string, len(results))
	for i, fact := range results {
		claims[i] = fact.Terms
	}

	account, ok := FromClaims(claims)
	if !ok {
		return domain.AdminAccount{}, fmt.Errorf("token names %d subjects, want exactly one", len(claims))
	}
	return account, nil
}
