package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-notify/internal/database"
	"chat-notify/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuth marks every authentication failure. Callers close the connection
// with a policy-violation code when errors.Is(err, ErrAuth).
var ErrAuth = errors.New("authentication failed")

type Service struct {
	users  database.UserRepository
	secret []byte
}

func NewService(users database.UserRepository, secret []byte) *Service {
	return &Service{
		users:  users,
		secret: secret,
	}
}

func (s *Service) ValidateToken(tokenString string) (*jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	if claims, ok := token.Claims.(*jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("%w: invalid token", ErrAuth)
}

// Authenticate resolves a bearer token to the user it was issued for.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", ErrAuth)
	}

	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	userIDFloat, ok := (*claims)["user_id"].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid user ID in token", ErrAuth)
	}

	user, err := s.users.GetUserByID(ctx, int(userIDFloat))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", ErrAuth)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// GenerateToken issues an HS256 token for the user, valid for ttl.
func (s *Service) GenerateToken(user *models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      now.Add(ttl).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
