package tokenstore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/waabox/devicelink/internal/domain"
)

// The encoding only keeps the token from being readable at a glance.
// It is not encryption.
const codecPrefix = "dl1."

var obfuscationKey = []byte("devicelink/github-token")

var errCorrupt = errors.New("corrupt token record")

type record struct {
	AccessToken string    `json:"access_token"`
	FetchedAt   time.Time `json:"fetched_at"`
}

func encode(cred domain.AuthCredential) (string, error) {
	raw, err := json.Marshal(record{AccessToken: cred.AccessToken, FetchedAt: cred.FetchedAt.UTC()})
	if err != nil {
		return "", err
	}
	return codecPrefix + base64.RawURLEncoding.EncodeToString(xor(raw)), nil
}

func decode(s string) (domain.AuthCredential, error) {
	if !strings.HasPrefix(s, codecPrefix) {
		return domain.AuthCredential{}, errCorrupt
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, codecPrefix))
	if err != nil {
		return domain.AuthCredential{}, errCorrupt
	}
	var rec record
	if err := json.Unmarshal(xor(raw), &rec); err != nil || rec.AccessToken == "" {
		return domain.AuthCredential{}, errCorrupt
	}
	return domain.AuthCredential{AccessToken: rec.AccessToken, FetchedAt: rec.FetchedAt}, nil
}

func xor(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ obfuscationKey[i%len(obfuscationKey)]
	}
	return out
}
