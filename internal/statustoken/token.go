// Package statustoken issues and checks the signed capability that lets a
// submitter poll the scan status of their submission.
package statustoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

const issuer = "intakevault"

// Claims carry the submission and object the token grants access to.
type Claims struct {
	jwt.RegisteredClaims
	Bucket string `json:"bkt"`
	Key    string `json:"key"`
}

// Grant is what a valid token entitles its holder to look up.
type Grant struct {
	SubmissionID string
	Location     storage.Location
	ExpiresAt    time.Time
}

// Issuer signs and verifies HS256 status tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue returns a token for the submission stored at loc.
func (i *Issuer) Issue(submissionID string, loc storage.Location) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   submissionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Bucket: loc.Bucket,
		Key:    loc.Key,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign status token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenString. Expired tokens return common.ErrTokenExpired;
// anything else wrong returns common.ErrInvalidToken.
func (i *Issuer) Parse(tokenString string) (*Grant, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, common.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	case !token.Valid:
		return nil, common.ErrInvalidToken
	}

	if claims.Subject == "" || claims.Bucket == "" || claims.Key == "" {
		return nil, common.ErrInvalidToken
	}

	return &Grant{
		SubmissionID: claims.Subject,
		Location:     storage.Location{Bucket: claims.Bucket, Key: claims.Key},
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}
