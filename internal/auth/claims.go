package auth

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/captoken"
	"github.com/jornet-server/internal/domain"
)

// ToClaim turns an admin account into the fact a token vouches for
func ToClaim(account domain.AdminAccount) captoken.Fact {
	return captoken.NewFact(claimPredicate, account.ID.String())
}

// FromClaims recovers an admin account from the distinct results of the
// subject query. It succeeds only for exactly one single-term UUID claim.
func FromClaims(claims [][]string) (domain.AdminAccount, bool) {
	if len(claims) != 1 || len(claims[0]) != 1 {
		return domain.AdminAccount{}, false
	}
	id, err := uuid.Parse(claims[0][0])
	if err != nil {
		return domain.AdminAccount{}, false
	}
	return domain.AdminAccount{ID: id}, true
}

// LoadKey resolves the root private key from configuration. An inline
// base64 key wins over a key file; with neither, a fresh key is generated
// and every token dies with the process.
func LoadKey(encoded, path string, logger *slog.Logger) (ed25519.PrivateKey, error) {
	switch {
	case encoded != "":
		key, err := captoken.PrivateKeyFromBase64(encoded)
		if err != nil {
			return nil, fmt.Errorf("parsing auth.private_key: %w", err)
		}
		return key, nil
	case path != "":
		key, err := captoken.LoadPrivateKey(path)
		if err != nil {
			return nil, fmt.Errorf("loading auth.private_key_file: %w", err)
		}
		return key, nil
	}

	_, key, err := captoken.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	logger.Warn("no token key configured, generated an ephemeral one; tokens will not survive a restart")
	return key, nil
}
