package pubcontrol

import (
	"encoding/base64"
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is added to now() as the "exp" claim when a JWT claim has none.
const DefaultTokenTTL = time.Hour

// BasicAuth holds HTTP Basic credentials.
type BasicAuth struct {
	User string
	Pass string
}

// JWTAuth holds a claim set and the key used to sign it.
type JWTAuth struct {
	Claim map[string]any
	Key   []byte
}

// AuthConfig is the credential state of one endpoint. Basic and JWT are kept
// independently; when both are set Basic is used.
type AuthConfig struct {
	Basic *BasicAuth
	JWT   *JWTAuth
}

func (a AuthConfig) clone() AuthConfig {
	out := AuthConfig{}
	if a.Basic != nil {
		b := *a.Basic
		out.Basic = &b
	}
	if a.JWT != nil {
		out.JWT = &JWTAuth{Claim: maps.Clone(a.JWT.Claim), Key: append([]byte(nil), a.JWT.Key...)}
	}
	return out
}

// TokenSigner signs a claim map with key. Implementations must be
// deterministic for identical inputs.
type TokenSigner interface {
	Sign(claim map[string]any, key []byte) (string, error)
}

// JWTSigner signs with an HMAC method from golang-jwt. The zero value uses HS256.
type JWTSigner struct {
	Method *jwt.SigningMethodHMAC
}

func (s JWTSigner) Sign(claim map[string]any, key []byte) (string, error) {
	method := s.Method
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	tok := jwt.NewWithClaims(method, jwt.MapClaims(claim))
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// GenerateHeader returns the Authorization header value for cfg, or "" when
// no credentials are configured.
func GenerateHeader(cfg AuthConfig, signer TokenSigner, now time.Time) (string, error) {
	switch {
	case cfg.Basic != nil:
		raw := cfg.Basic.User + ":" + cfg.Basic.Pass
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)), nil
	case cfg.JWT != nil:
		if signer == nil {
			signer = JWTSigner{}
		}
		claim := maps.Clone(cfg.JWT.Claim)
		if claim == nil {
			claim = map[string]any{}
		}
		if _, ok := claim["exp"]; !ok {
			claim["exp"] = now.Add(DefaultTokenTTL).Unix()
		}
		token, err := signer.Sign(claim, cfg.JWT.Key)
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	default:
		return "", nil
	}
}
