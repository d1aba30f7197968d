package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/you/mediqueue/pkg/auth"
	"github.com/you/mediqueue/pkg/kv"
	"github.com/you/mediqueue/services/appointment-service/internal/domain"
)

// SessionService ends sessions early by blacklisting the token for exactly
// its remaining lifetime.
type SessionService struct {
	codec *auth.Codec
	bl    kv.Blacklist
	log   *logrus.Logger
}

func NewSessionService(codec *auth.Codec, bl kv.Blacklist, log *logrus.Logger) *SessionService {
	return &SessionService{codec: codec, bl: bl, log: log}
}

// Logout revokes the token. A token past natural expiry is rejected with
// ErrAlreadyExpired and no entry is written.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	claims, err := s.codec.ParseValidate(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpired) {
			s.log.Warn("logout rejected: token already expired")
			return domain.ErrAlreadyExpired
		}
		s.log.WithError(err).Warn("logout rejected: invalid token")
		return domain.ErrUnauthorized
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return domain.ErrAlreadyExpired
	}
	if err := s.bl.Revoke(ctx, token, ttl); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user_id": claims.Sub, "role": claims.Role, "ttl": ttl.Round(time.Second)}).Info("user logged out, token blacklisted")
	return nil
}
