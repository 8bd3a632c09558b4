package token

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"time"
)

// Algorithm names an HMAC signing algorithm.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
)

// DefaultMaxAge is how long a token stays valid unless configured.
const DefaultMaxAge = 24 * time.Hour

var b64 = base64.RawURLEncoding

type jwtHeader struct {
	Typ string    `json:"typ"`
	Alg Algorithm `json:"alg"`
}

type jwtPayload struct {
	Exp  *int64            `json:"exp"`
	Data map[string]string `json:"data"`
}

// JWT seals state in a compact HMAC-signed JSON web token:
// base64url(header).base64url(payload).base64url(signature), unpadded.
type JWT struct {
	secret []byte
	alg    Algorithm
	digest func() hash.Hash
	maxAge time.Duration
	now    func() time.Time
	header string
}

// JWTOption configures a JWT resolver.
type JWTOption func(*JWT)

// WithAlgorithm selects the signing algorithm. Default: HS512.
func WithAlgorithm(alg Algorithm) JWTOption {
	return func(j *JWT) { j.alg = alg }
}

// WithMaxAge sets the token lifetime. Default: 24h.
func WithMaxAge(d time.Duration) JWTOption {
	return func(j *JWT) { j.maxAge = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) JWTOption {
	return func(j *JWT) { j.now = now }
}

// NewJWT builds a resolver signing with secret.
func NewJWT(secret []byte, opts ...JWTOption) (*JWT, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	j := &JWT{
		secret: append([]byte(nil), secret...),
		alg:    HS512,
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}

	switch j.alg {
	case HS256:
		j.digest = sha256.New
	case HS384:
		j.digest = sha512.New384
	case HS512:
		j.digest = sha512.New
	default:
		return nil, fmt.Errorf("token: unsupported algorithm %q", j.alg)
	}
	if j.maxAge <= 0 {
		return nil, fmt.Errorf("token: max age must be positive, got %v", j.maxAge)
	}

	raw, _ := json.Marshal(jwtHeader{Typ: "JWT", Alg: j.alg})
	j.header = b64.EncodeToString(raw)
	return j, nil
}

// Algorithm returns the configured algorithm.
func (j *JWT) Algorithm() Algorithm { return j.alg }

// CreateToken implements Resolver. previous is ignored.
func (j *JWT) CreateToken(ctx context.Context, data map[string]string, previous string) (string, error) {
	if data == nil {
		data = map[string]string{}
	}
	exp := j.now().Add(j.maxAge).Unix()
	raw, err := json.Marshal(jwtPayload{Exp: &exp, Data: data})
	if err != nil {
		return "", fmt.Errorf("token: encode payload: %w", err)
	}

	signed := j.header + "." + b64.EncodeToString(raw)
	return signed + "." + b64.EncodeToString(j.sign(signed)), nil
}

// Resolve implements Resolver.
func (j *JWT) Resolve(ctx context.Context, token string) (map[string]string, error) {
	data, err := j.resolve(token)
	if err != nil {
		return map[string]string{}, err
	}
	return data, nil
}

func (j *JWT) resolve(token string) (map[string]string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, invalid("malformed")
	}

	rawHeader, err := b64.DecodeString(parts[0])
	if err != nil {
		return nil, invalid("header encoding")
	}
	var header jwtHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return nil, invalid("header")
	}
	if header.Typ != "JWT" || header.Alg != j.alg {
		return nil, invalid("header contents")
	}

	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, invalid("signature encoding")
	}
	signed := token[:len(parts[0])+1+len(parts[1])]
	if !hmac.Equal(sig, j.sign(signed)) {
		return nil, invalid("signature")
	}

	rawPayload, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, invalid("payload encoding")
	}
	var payload jwtPayload
	dec := json.NewDecoder(bytes.NewReader(rawPayload))
	if err := dec.Decode(&payload); err != nil || payload.Exp == nil || payload.Data == nil {
		return nil, invalid("payload")
	}
	if time.Unix(*payload.Exp, 0).Before(j.now()) {
		return nil, invalid("expired")
	}
	return payload.Data, nil
}

func (j *JWT) sign(s string) []byte {
	mac := hmac.New(j.digest, j.secret)
	mac.Write([]byte(s))
	return mac.Sum(nil)
}
