package api

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/banachtech/riskcube/db"
	"golang.org/x/crypto/bcrypt"
)

const (
	secretLength = 16
	// bcrypt cost of stored keys
	keyCost = 12
)

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}

// GenerateAPIKey issues a key valid for validity. The plain key is returned
// once; only its bcrypt hash goes into the stored record.
func GenerateAPIKey(email string, validity time.Duration) (string, db.APIKey, error) {
	if email == "" {
		return "", db.APIKey{}, errors.New("please enter a valid email")
	}
	prefix, err := randomToken(prefixLength)
	if err != nil {
		return "", db.APIKey{}, fmt.Errorf("generate api key: %w", err)
	}
	secret, err := randomToken(secretLength)
	if err != nil {
		return "", db.APIKey{}, fmt.Errorf("generate api key: %w", err)
	}
	apiKey := fmt.Sprintf("%s.%s", prefix, secret)
	hashed, err := bcrypt.GenerateFromPassword([]byte(apiKey), keyCost)
	if err != nil {
		return "", db.APIKey{}, err
	}
	now := time.Now().UTC()
	return apiKey, db.APIKey{
		Prefix:       prefix,
		Token:        string(hashed),
		EmailAddress: email,
		GeneratedAt:  now,
		ExpiredAt:    now.Add(validity),
	}, nil
}
