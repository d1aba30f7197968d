package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/you/mediqueue/pkg/auth"
	"github.com/you/mediqueue/pkg/events"
	"github.com/you/mediqueue/pkg/kv"
	"github.com/you/mediqueue/services/auth-service/internal/domain"
	"github.com/you/mediqueue/services/auth-service/internal/repository"
)

type fakePublisher struct {
	mu     sync.Mutex
	fail   bool
	keys   []string
	events []any
}

func (f *fakePublisher) PublishJSON(ctx context.Context, key string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.keys = append(f.keys, key)
	f.events = append(f.events, v)
	return nil
}

type authFixture struct {
	svc   *AuthService
	pub   *fakePublisher
	codec *auth.Codec
	mr    *miniredis.Miniredis
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := repository.NewUserRepo(gdb)
	require.NoError(t, repo.Migrate())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	codec := auth.NewCodec("test-secret", time.Hour)
	pub := &fakePublisher{}
	svc := NewAuthService(repo, codec, kv.NewBlacklist(client), pub, log)
	return &authFixture{svc: svc, pub: pub, codec: codec, mr: mr}
}

func TestRegisterPublishesUserCreated(t *testing.T) {
	f := newAuthFixture(t)
	profile := events.Profile{Name: "Dr. Alice Johnson", Specialization: "Cardiology"}

	u, token, err := f.svc.Register(context.Background(), "alice@clinic.com", "secret123", domain.RoleDoctor, profile)
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.NotEmpty(t, token)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.RKUserCreated, f.pub.keys[0])
	evt := f.pub.events[0].(events.UserCreated)
	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, events.RKUserCreated, evt.Event)
	assert.Equal(t, u.ID, evt.UserID)
	assert.Equal(t, "alice@clinic.com", evt.Email)
	assert.Equal(t, domain.RoleDoctor, evt.Role)
	assert.Equal(t, profile, evt.Profile)
	_, err = time.Parse(time.RFC3339, evt.Timestamp)
	assert.NoError(t, err)

	claims, err := f.codec.ParseValidate(token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleDoctor, claims.Role)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	_, _, err := f.svc.Register(context.Background(), "john@example.com", "pw", domain.RolePatient, events.Profile{})
	require.NoError(t, err)

	_, _, err = f.svc.Register(context.Background(), "john@example.com", "other", domain.RolePatient, events.Profile{})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Len(t, f.pub.events, 1, "no second event for the rejected registration")
}

func TestRegisterSurvivesPublishFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.pub.fail = true

	u, token, err := f.svc.Register(context.Background(), "john@example.com", "pw", domain.RolePatient, events.Profile{})
	require.NoError(t, err, "registration is committed regardless of the broker")
	assert.NotZero(t, u.ID)
	assert.NotEmpty(t, token)

	// The account is usable immediately.
	_, _, err = f.svc.Login(context.Background(), "john@example.com", "pw")
	assert.NoError(t, err)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	_, _, err := f.svc.Register(context.Background(), "john@example.com", "pw", domain.RolePatient, events.Profile{})
	require.NoError(t, err)

	_, _, err = f.svc.Login(context.Background(), "john@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = f.svc.Login(context.Background(), "nobody@example.com", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyRevokedToken(t *testing.T) {
	f := newAuthFixture(t)
	_, token, err := f.svc.Register(context.Background(), "john@example.com", "pw", domain.RolePatient, events.Profile{})
	require.NoError(t, err)

	claims, err := f.svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.RolePatient, claims.Role)

	require.NoError(t, f.mr.Set("blacklist:"+token, "true"))
	f.mr.SetTTL("blacklist:"+token, time.Hour)

	_, err = f.svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestVerifyStaysRejectedAfterBlacklistEntryLapses(t *testing.T) {
	f := newAuthFixture(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Sub:  "1",
		Role: domain.RolePatient,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	// Entry written at logout time; expiry already caught up with it.
	require.NoError(t, f.mr.Set("blacklist:"+token, "true"))
	f.mr.SetTTL("blacklist:"+token, time.Second)
	f.mr.FastForward(2 * time.Second)

	_, err = f.svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrExpired)
	assert.NotErrorIs(t, err, ErrTokenRevoked)
}
