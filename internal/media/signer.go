package media

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultURLTTL bounds how long a published thumbnail link stays valid.
const DefaultURLTTL = 24 * time.Hour

// URLSigner issues signed thumbnail URLs for bus and push payloads so the
// media endpoint can serve them without session auth.
type URLSigner struct {
	baseURL string
	key     []byte
	ttl     time.Duration
}

func NewURLSigner(baseURL string, key []byte) *URLSigner {
	return &URLSigner{baseURL: baseURL, key: key, ttl: DefaultURLTTL}
}

type thumbnailClaims struct {
	EventID string `json:"eid"`
	jwt.RegisteredClaims
}

// ThumbnailURL returns `<base>/media/thumbnails/<event-id>.jpg?token=<jwt>`.
func (s *URLSigner) ThumbnailURL(eventID uuid.UUID) (string, error) {
	now := time.Now()
	claims := thumbnailClaims{
		EventID: eventID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign thumbnail url: %w", err)
	}
	return fmt.Sprintf("%s/media/thumbnails/%s.jpg?token=%s", s.baseURL, eventID, token), nil
}

// Verify checks a presented token and returns the event id it covers.
func (s *URLSigner) Verify(tokenStr string) (uuid.UUID, error) {
	var claims thumbnailClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(claims.EventID)
}
