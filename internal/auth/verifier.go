// Package auth verifies bearer tokens issued elsewhere and extracts the
// caller's role and courier identity. Token minting is out of scope.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// Verifier validates tokens. Modes: dev (no verification, token is
// "role:courierId") and hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
}

// Principal is the authenticated caller.
type Principal struct {
	Role      string // admin, operator, courier
	CourierID string
}

func (p Principal) IsAdmin() bool    { return p.Role == "admin" }
func (p Principal) IsOperator() bool { return p.Role == "operator" || p.Role == "admin" }

func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(os.Getenv("AUTH_HMAC_SECRET"))}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		parts := strings.SplitN(token, ":", 2)
		if len(parts) == 0 || parts[0] == "" {
			return Principal{}, errors.New("invalid dev token; expected role:courierId")
		}
		p := Principal{Role: parts[0]}
		if len(parts) == 2 {
			p.CourierID = parts[1]
		}
		return p, nil
	}

	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, errors.New("invalid JWT")
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, err
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, err
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, errors.New("signature mismatch")
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, err
	}
	p := Principal{}
	if v, ok := claims["role"].(string); ok {
		p.Role = v
	}
	if v, ok := claims["sub"].(string); ok {
		p.CourierID = v
	}
	if p.Role == "" {
		return Principal{}, errors.New("missing role claim")
	}
	return p, nil
}

func b64urlDecode(s string) ([]byte, error) {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.URLEncoding.DecodeString(s)
}
