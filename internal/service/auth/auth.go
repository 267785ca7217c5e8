package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/andrelucass/fruteira/internal/events"
	"github.com/andrelucass/fruteira/internal/hash"
	"github.com/andrelucass/fruteira/internal/logging"
	"github.com/andrelucass/fruteira/internal/models"
)

var (
	ErrValidation         = errors.New("validation")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const (
	AccessTTL  = 15 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour
)

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

type Service struct {
	DB            *gorm.DB
	JWTSecret     []byte
	RefreshSecret []byte
	Events        EventPublisher
}

type Claims struct {
	UserID uint
	Admin  bool
}

type LoginResult struct {
	User         models.User
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

func (s *Service) Register(ctx context.Context, name, email, phone, password string) (*models.User, error) {
	if name == "" || email == "" || password == "" {
		return nil, fmt.Errorf("name, email and password are required: %w", ErrValidation)
	}

	pwHash, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	var existing models.User
	err = s.DB.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("%s: %w", email, ErrDuplicateEmail)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user := models.User{
		Name:         name,
		Email:        email,
		Phone:        phone,
		PasswordHash: pwHash,
	}
	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}

	s.publish(ctx, user.ID, map[string]any{
		"type":    "user_registered",
		"user_id": user.ID,
		"email":   user.Email,
	})
	return &user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !hash.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	res, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, user.ID, map[string]any{
		"type":    "user_logged_in",
		"user_id": user.ID,
	})
	return res, nil
}

// Refresh rotates a refresh token: validates it against the signature and the
// stored row, then issues a fresh access/refresh pair and revokes the old one.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*LoginResult, error) {
	claims, err := s.parse(rawRefresh, s.RefreshSecret)
	if err != nil {
		return nil, err
	}

	var stored models.RefreshToken
	if err := s.DB.WithContext(ctx).Where("token = ?", rawRefresh).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("refresh token unknown: %w", ErrInvalidToken)
		}
		return nil, err
	}
	if stored.Revoked || stored.ExpiresAt < time.Now().Unix() {
		return nil, fmt.Errorf("refresh token expired or revoked: %w", ErrInvalidToken)
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		return nil, fmt.Errorf("refresh token user gone: %w", ErrInvalidToken)
	}

	if err := s.DB.WithContext(ctx).Model(&stored).Update("revoked", true).Error; err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user)
}

func (s *Service) Logout(ctx context.Context, rawRefresh string) error {
	return s.DB.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token = ?", rawRefresh).
		Update("revoked", true).Error
}

// ParseAccess checks an access token's signature and expiry and extracts the
// authenticated identity.
func (s *Service) ParseAccess(raw string) (*Claims, error) {
	return s.parse(raw, s.JWTSecret)
}

func (s *Service) issueTokens(ctx context.Context, user models.User) (*LoginResult, error) {
	accessExp := time.Now().Add(AccessTTL)
	access, err := s.sign(user, accessExp, s.JWTSecret)
	if err != nil {
		return nil, err
	}

	refreshExp := time.Now().Add(RefreshTTL)
	refresh, err := s.sign(user, refreshExp, s.RefreshSecret)
	if err != nil {
		return nil, err
	}

	row := models.RefreshToken{
		Token:     refresh,
		UserID:    user.ID,
		ExpiresAt: refreshExp.Unix(),
	}
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}

	return &LoginResult{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (s *Service) sign(user models.User, exp time.Time, secret []byte) (string, error) {
	// jti keeps tokens issued within the same second distinct
	claims := jwt.MapClaims{
		"sub":   strconv.FormatUint(uint64(user.ID), 10),
		"admin": user.Admin,
		"exp":   exp.Unix(),
		"jti":   uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (s *Service) parse(raw string, secret []byte) (*Claims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidToken)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, err := mc.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("missing subject: %w", ErrInvalidToken)
	}
	id, err := strconv.ParseUint(sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad subject: %w", ErrInvalidToken)
	}
	admin, _ := mc["admin"].(bool)

	return &Claims{UserID: uint(id), Admin: admin}, nil
}

func (s *Service) publish(ctx context.Context, userID uint, event map[string]any) {
	if s.Events == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Events.PublishEvent(pubCtx, events.TopicUserEvents, fmt.Sprint(userID), event); err != nil {
		logging.FromContext(ctx).Error("event publish failed", "topic", events.TopicUserEvents, "error", err)
	}
}
