// Package signer builds and HMAC-signs compact bearer tokens for
// authenticated consumers.
package signer

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	authsidecar "github.com/eugener/authsidecar/internal"
)

// Request holds everything needed to mint one token.
type Request struct {
	Subject       string // username, becomes the "sub" claim
	SigningKeyID  string // kid header, also the gateway-key claim value
	SigningSecret []byte
	Authority     string // "iss" claim unless Issuer is set
	Audience      string // "aud" claim
	Issuer        string // kept distinct from Authority for callers that
	                      // configure them independently; when non-empty
	                      // it replaces Authority as the "iss" claim.
	GatewayKeyClaim string // claim name for the signing key id, default "key"
	TTLMinutes    int
}

// Response is the minted token and its lifetime in seconds.
type Response struct {
	Token     string
	ExpiresIn int
}

// claims extends jwt.RegisteredClaims with the gateway-key claim. The
// claim name itself is configurable, so it is not a struct field --
// Sign builds a jwt.MapClaims instead when the configured claim name
// differs from the default, otherwise uses the typed struct for the
// common case.
type claims struct {
	jwt.RegisteredClaims
	Key string `json:"key,omitempty"`
}

// Sign builds a three-segment dot-separated HS256 token from req.
// Fails with authsidecar.ErrConfig when the secret is empty; never retries.
func Sign(req Request) (Response, error) {
	if len(req.SigningSecret) == 0 {
		return Response{}, authsidecar.ErrConfig
	}

	ttl := req.TTLMinutes
	if ttl <= 0 {
		ttl = 5
	}
	now := time.Now()
	exp := now.Add(time.Duration(ttl) * time.Minute)

	gatewayKeyClaim := req.GatewayKeyClaim
	if gatewayKeyClaim == "" {
		gatewayKeyClaim = "key"
	}

	reg := jwt.RegisteredClaims{
		Issuer:    req.Authority,
		Audience:  jwt.ClaimStrings{req.Audience},
		Subject:   req.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	if req.Issuer != "" && req.Issuer != req.Authority {
		reg.Issuer = req.Issuer
	}

	var token *jwt.Token
	if gatewayKeyClaim == "key" {
		token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
			RegisteredClaims: reg,
			Key:              req.SigningKeyID,
		})
	} else {
		mc := jwt.MapClaims{
			"iss": reg.Issuer,
			"aud": reg.Audience,
			"sub": reg.Subject,
			"iat": reg.IssuedAt,
			"exp": reg.ExpiresAt,
		}
		mc[gatewayKeyClaim] = req.SigningKeyID
		token = jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	}
	token.Header["kid"] = req.SigningKeyID

	signed, err := token.SignedString(req.SigningSecret)
	if err != nil {
		// token.SignedString only fails on malformed keys, which an empty
		// check above already rules out; surface defensively as ConfigError
		// without ever logging the secret itself.
		return Response{}, authsidecar.ErrConfig
	}

	return Response{Token: signed, ExpiresIn: ttl * 60}, nil
}
