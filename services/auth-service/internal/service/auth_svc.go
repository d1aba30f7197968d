package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/you/mediqueue/pkg/auth"
	"github.com/you/mediqueue/pkg/events"
	"github.com/you/mediqueue/pkg/kv"
	"github.com/you/mediqueue/services/auth-service/internal/domain"
	"github.com/you/mediqueue/services/auth-service/internal/repository"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenRevoked       = errors.New("token is blacklisted (logged out)")
)

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type AuthService struct {
	repo  *repository.UserRepo
	codec *auth.Codec
	bl    kv.Blacklist
	pub   Publisher
	log   *logrus.Logger
}

func NewAuthService(repo *repository.UserRepo, codec *auth.Codec, bl kv.Blacklist, pub Publisher, log *logrus.Logger) *AuthService {
	return &AuthService{repo: repo, codec: codec, bl: bl, pub: pub, log: log}
}

// Register creates the identity row, announces it downstream, and issues the
// first token. The user.created publish is best-effort: registration is
// committed and must not fail for a messaging fault.
func (s *AuthService) Register(ctx context.Context, email, password, role string, profile events.Profile) (*domain.User, string, error) {
	if _, err := s.repo.ByEmail(ctx, email); err == nil {
		s.log.WithField("email", email).Warn("registration rejected: email already registered")
		return nil, "", ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	u := &domain.User{Email: email, HashedPassword: string(hash), Role: role}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, "", err
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("user created")

	evt := events.UserCreated{
		EventID:   uuid.NewString(),
		Event:     events.RKUserCreated,
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		Profile:   profile,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.pub.PublishJSON(ctx, events.RKUserCreated, evt); err != nil {
		s.log.WithFields(logrus.Fields{"user_id": u.ID, "event_id": evt.EventID}).WithError(err).Error("user.created publish failed")
	}

	token, err := s.codec.Issue(strconv.FormatUint(uint64(u.ID), 10), u.Role)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	u, err := s.repo.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithField("email", email).Warn("login failed: email not found")
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) != nil {
		s.log.WithField("email", email).Warn("login failed: incorrect password")
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.codec.Issue(strconv.FormatUint(uint64(u.ID), 10), u.Role)
	if err != nil {
		return nil, "", err
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("login successful")
	return u, token, nil
}

// Verify is the service-to-service verification query: blacklist first, then
// signature and expiry.
func (s *AuthService) Verify(ctx context.Context, token string) (*auth.Claims, error) {
	revoked, err := s.bl.IsRevoked(ctx, token)
	if err != nil {
		return nil, err
	}
	if revoked {
		s.log.Warn("attempt to use blacklisted token")
		return nil, ErrTokenRevoked
	}
	return s.codec.ParseValidate(token)
}
