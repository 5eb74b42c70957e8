package accesscontrol

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// credentialClaims carries the fields a remote participant needs to check
// plugin-class compatibility before calling ValidateRemotePermissions,
// signed so a forwarded token can't be forged in transit.
type credentialClaims struct {
	PluginClassName string `json:"plugin_class_name"`
	SubjectName     string `json:"subject_name"`
	jwt.RegisteredClaims
}

// credentialSigner mints and verifies the signed form of a
// PermissionsToken. Each Evaluator owns its own key, generated at
// construction: the credential only needs to round-trip through this
// process's own ValidateRemotePermissions call, not survive a restart.
type credentialSigner struct {
	key []byte
}

func newCredentialSigner() *credentialSigner {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return &credentialSigner{key: key}
}

func (s *credentialSigner) sign(tok PermissionsToken) (string, error) {
	now := time.Now()
	claims := credentialClaims{
		PluginClassName: tok.PluginClassName,
		SubjectName:     tok.SubjectName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("accesscontrol: sign credential token: %w", err)
	}
	return signed, nil
}

func (s *credentialSigner) verify(credential string) (PermissionsToken, error) {
	var claims credentialClaims
	_, err := jwt.ParseWithClaims(credential, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return PermissionsToken{}, fmt.Errorf("accesscontrol: invalid credential token: %w", err)
	}
	return PermissionsToken{PluginClassName: claims.PluginClassName, SubjectName: claims.SubjectName}, nil
}
