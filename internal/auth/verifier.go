package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failure kinds. Every rejected token maps to exactly one of
// these; callers classify with errors.Is and must not surface the raw token.
var (
	ErrInvalidTokenFormat      = errors.New("auth: invalid token format")
	ErrInvalidSignature        = errors.New("auth: invalid token signature")
	ErrMissingClaim            = errors.New("auth: missing required claim")
	ErrInvalidIssuerOrAudience = errors.New("auth: issuer or audience mismatch")
	ErrTokenExpired            = errors.New("auth: token expired")
	ErrTokenNotYetValid        = errors.New("auth: token not yet valid")
)

// DefaultClockSkew absorbs distributed-clock drift on the exp/nbf windows.
const DefaultClockSkew = 60 * time.Second

// tokenLogPrefixLen bounds how much of a rejected token ends up in logs.
const tokenLogPrefixLen = 12

// Claims is the claim set worksync tokens carry. Identity comes from the
// registered subject; roles and projects scope room authorization.
type Claims struct {
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Projects []string `json:"projects,omitempty"`
	jwt.RegisteredClaims
}

// VerifierConfig configures token verification. Secret is the single
// symmetric signing key; Issuer and Audience are matched exactly.
type VerifierConfig struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration // defaults to DefaultClockSkew when zero
}

// Verifier validates bearer tokens and produces per-connection identity
// contexts. Only HS256 is accepted; any other algorithm is rejected before
// claims are looked at.
type Verifier struct {
	logger *slog.Logger
	now    func() time.Time
	cfg    VerifierConfig
	parser *jwt.Parser
}

// NewVerifier creates a verifier for the configured key, issuer and audience.
func NewVerifier(cfg VerifierConfig, logger *slog.Logger) *Verifier {
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	return &Verifier{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			// Claim windows are checked manually below so that the skew
			// tolerance is exact at the boundary and every failure maps to
			// one typed error.
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify checks signature, algorithm and required claims and returns the
// identity context for the connection. All failures are terminal for the
// connection attempt and are logged with their kind, never the full token.
func (v *Verifier) Verify(token string) (*Context, error) {
	if token == "" {
		return nil, v.reject(token, ErrInvalidTokenFormat)
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.cfg.Secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			// Covers both a bad HMAC and a disallowed algorithm.
			return nil, v.reject(token, ErrInvalidSignature)
		default:
			return nil, v.reject(token, ErrInvalidTokenFormat)
		}
	}
	if !parsed.Valid {
		return nil, v.reject(token, ErrInvalidSignature)
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, v.reject(token, ErrMissingClaim)
	}
	if claims.Issuer != v.cfg.Issuer || !audienceMatches(claims.Audience, v.cfg.Audience) {
		return nil, v.reject(token, ErrInvalidIssuerOrAudience)
	}

	now := v.now().Unix()
	skew := int64(v.cfg.ClockSkew / time.Second)
	if now > claims.ExpiresAt.Unix()+skew {
		return nil, v.reject(token, ErrTokenExpired)
	}
	if claims.NotBefore != nil && now < claims.NotBefore.Unix()-skew {
		return nil, v.reject(token, ErrTokenNotYetValid)
	}

	return &Context{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Roles:     NewStringSet(claims.Roles),
		Projects:  NewStringSet(claims.Projects),
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, nil
}

func (v *Verifier) reject(token string, kind error) error {
	v.logger.Warn("token rejected",
		"kind", kind.Error(),
		"token_prefix", tokenPrefix(token),
	)
	return kind
}

// audienceMatches requires the configured audience to appear verbatim in the
// token's aud claim.
func audienceMatches(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func tokenPrefix(token string) string {
	if len(token) <= tokenLogPrefixLen {
		return token
	}
	return token[:tokenLogPrefixLen]
}
