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
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/you/mediqueue/pkg/events"
	"github.com/you/mediqueue/pkg/kv"
	"github.com/you/mediqueue/services/appointment-service/internal/authclient"
	"github.com/you/mediqueue/services/appointment-service/internal/domain"
	"github.com/you/mediqueue/services/appointment-service/internal/repository"
)

type fakeVerifier struct {
	claims *authclient.Claims
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, bearer string) (*authclient.Claims, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

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

type fixture struct {
	svc      *BookingService
	verifier *fakeVerifier
	pub      *fakePublisher
	locker   *kv.RedisLocker
	gdb      *gorm.DB
	mr       *miniredis.Miniredis
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	appts := repository.NewAppointmentRepo(gdb)
	require.NoError(t, appts.Migrate())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locker := kv.NewLocker(client)

	verifier := &fakeVerifier{claims: &authclient.Claims{Sub: "10", Role: domain.RolePatient}}
	pub := &fakePublisher{}
	svc := NewBookingService(repository.NewDoctorRepo(gdb), repository.NewPatientRepo(gdb), appts,
		verifier, locker, pub, time.Minute, quietLog())

	return &fixture{svc: svc, verifier: verifier, pub: pub, locker: locker, gdb: gdb, mr: mr}
}

func (f *fixture) seedDoctor(t *testing.T, slots ...string) *domain.Doctor {
	t.Helper()
	d := &domain.Doctor{UserID: 1, Name: "Dr. Alice Johnson", Specialization: "Cardiology", AvailableSlots: slots, DailyLimit: 5}
	require.NoError(t, f.gdb.Create(d).Error)
	return d
}

func (f *fixture) seedPatient(t *testing.T) *domain.Patient {
	t.Helper()
	p := &domain.Patient{UserID: 10, Name: "John Doe", Email: "john@example.com", Phone: "555-1010"}
	require.NoError(t, f.gdb.Create(p).Error)
	return p
}

func (f *fixture) doctorState(t *testing.T, id uint) domain.Doctor {
	t.Helper()
	var d domain.Doctor
	require.NoError(t, f.gdb.First(&d, id).Error)
	return d
}

func TestBookHappyPath(t *testing.T) {
	f := newFixture(t)
	doc := f.seedDoctor(t, "09:00", "09:30")
	pat := f.seedPatient(t)

	res, err := f.svc.Book(context.Background(), "Bearer tok", doc.ID, "09:00")
	require.NoError(t, err)
	assert.True(t, res.Published)
	require.NotNil(t, res.Appointment)

	after := f.doctorState(t, doc.ID)
	assert.Equal(t, []string{"09:30"}, after.AvailableSlots)
	assert.Equal(t, 1, after.BookedSlots)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.RKAppointmentCreated, f.pub.keys[0])
	evt := f.pub.events[0].(events.AppointmentCreated)
	assert.Equal(t, doc.ID, evt.DoctorID)
	assert.Equal(t, pat.ID, evt.PatientID)
	assert.Equal(t, "09:00", evt.Time)
	assert.NotEmpty(t, evt.EventID)
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	f := newFixture(t)
	doc := f.seedDoctor(t, "09:00", "09:30")
	f.seedPatient(t)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Book(context.Background(), "Bearer tok", doc.ID, "09:00")
		}(i)
	}
	wg.Wait()

	var ok, contested int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrSlotContested):
			contested++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one booking must win")
	assert.Equal(t, 1, contested)

	var n int64
	require.NoError(t, f.gdb.Model(&domain.Appointment{}).Count(&n).Error)
	assert.EqualValues(t, 1, n, "never two appointments for the same (doctor,slot)")
	assert.Len(t, f.pub.events, 1, "event published exactly once")
}

func TestBookContestedEvenAfterWinnerCommits(t *testing.T) {
	f := newFixture(t)
	doc := f.seedDoctor(t, "09:00", "09:30")
	f.seedPatient(t)

	_, err := f.svc.Book(context.Background(), "Bearer tok", doc.ID, "09:00")
	require.NoError(t, err)

	// The lease releases only by expiry, so the second attempt inside the
	// TTL window is contested rather than unavailable.
	_, err = f.svc.Book(context.Background(), "Bearer tok", doc.ID, "09:00")
	assert.ErrorIs(t, err, domain.ErrSlotContested)

	f.mr.FastForward(61 * time.Second)
	_, err = f.svc.Book(context.Background(), "Bearer tok", doc.ID, "09:00")
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
}

func TestBookForbiddenRoleLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	doc := f.seedDoctor(t, "09:00", "09:30")
	f.seedPatient(t)
	f.verifier.claims = &authclient.Claims{Sub: "1", Role: domain.RoleDoctor}

	_, err := f.svc.Book(context.Background(), "Bearer tok", doc.ID, "09:00")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	after := f.doctorState(t, doc.ID)
	assert.Equal(t, []string{"09:00", "09:30"}, after.AvailableSlots)
	assert.Equal(t, 0, after.BookedSlots)
	assert.Empty(t, f.pub.events)
}

func TestBookUnknownSlotUnavailable(t *testing.T) {
	f := newFixture(t)
	doc := f.seedDoctor(t, "09:00", "09:30")
	f.seedPatient(t)

	_, err := f.svc.Book(context.Background(), "Bearer tok", doc.ID, "12:00")
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)

	after := f.doctorState(t, doc.ID)
	assert.Equal(t, []string{"09:00", "09:30"}, after.AvailableSlots)
}

func TestBookPatientNotFound(t *testing.T) {
	f := newFixture(t)
	doc := f.seedDoctor(t, "09:00")

	_, err := f.svc.Book(context.Background(), "Bearer tok", doc.ID, "09:00")
	assert.ErrorIs(t, err, domain.ErrPatientNotFound)
}

func TestBookUnauthorizedPassthrough(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = fmt.Errorf("%w: token is blacklisted", domain.ErrUnauthorized)

	_, err := f.svc.Book(context.Background(), "Bearer tok", 1, "09:00")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.True(t, IsAuthFailure(err))
}

func TestBookVerifierUnreachableIsNotAuthFailure(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = errors.New("auth service unreachable: connection refused")

	_, err := f.svc.Book(context.Background(), "Bearer tok", 1, "09:00")
	require.Error(t, err)
	assert.False(t, IsAuthFailure(err))
}

func TestBookPublishFailureDegradesNotFails(t *testing.T) {
	f := newFixture(t)
	doc := f.seedDoctor(t, "09:00")
	f.seedPatient(t)
	f.pub.fail = true

	res, err := f.svc.Book(context.Background(), "Bearer tok", doc.ID, "09:00")
	require.NoError(t, err, "commit must not be rolled back for a messaging fault")
	assert.False(t, res.Published)

	after := f.doctorState(t, doc.ID)
	assert.Empty(t, after.AvailableSlots)
	assert.Equal(t, 1, after.BookedSlots)
}

func TestUpdateSlotsOwnerOverwrite(t *testing.T) {
	f := newFixture(t)
	doc := f.seedDoctor(t, "09:00", "09:30")
	f.verifier.claims = &authclient.Claims{Sub: "1", Role: domain.RoleDoctor}

	updated, err := f.svc.UpdateSlots(context.Background(), "Bearer tok", []string{"14:00", "14:30", "15:00"})
	require.NoError(t, err)
	assert.Equal(t, doc.ID, updated.ID)
	assert.Equal(t, []string{"14:00", "14:30", "15:00"}, updated.AvailableSlots)
}

func TestUpdateSlotsWrongRole(t *testing.T) {
	f := newFixture(t)
	f.seedDoctor(t, "09:00")

	_, err := f.svc.UpdateSlots(context.Background(), "Bearer tok", []string{"14:00"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUpdateSlotsBadFormat(t *testing.T) {
	f := newFixture(t)
	f.seedDoctor(t, "09:00")
	f.verifier.claims = &authclient.Claims{Sub: "1", Role: domain.RoleDoctor}

	_, err := f.svc.UpdateSlots(context.Background(), "Bearer tok", []string{"2pm"})
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
}

func TestResetAllRestoresTemplate(t *testing.T) {
	f := newFixture(t)
	d := &domain.Doctor{UserID: 3, Name: "Dr. Clara Williams", AvailableSlots: []string{"13:00"}, BookedSlots: 3}
	require.NoError(t, f.gdb.Create(d).Error)

	reset, skipped, err := f.svc.ResetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reset)
	assert.Equal(t, 0, skipped)

	after := f.doctorState(t, d.ID)
	assert.Equal(t, domain.DefaultSlots(), after.AvailableSlots)
	assert.Equal(t, 0, after.BookedSlots)
}

func TestResetAllSkipsContestedDoctor(t *testing.T) {
	f := newFixture(t)
	doc := f.seedDoctor(t, "09:00", "09:30")
	doc2mod := f.doctorState(t, doc.ID)
	require.NoError(t, f.gdb.Model(&doc2mod).Update("booked_slots", 2).Error)

	// A booking in flight holds this lease.
	_, ok, err := f.locker.TryAcquire(context.Background(), kv.DoctorSlotKey(doc.ID, "09:30"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	reset, skipped, err := f.svc.ResetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reset)
	assert.Equal(t, 1, skipped)

	after := f.doctorState(t, doc.ID)
	assert.Equal(t, 2, after.BookedSlots, "contended doctor must not be clobbered")
}

func TestRegisterPatientAndLookup(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.RegisterPatient(context.Background(), "Bearer tok", "John Doe", "john@example.com", "555-1010")
	require.NoError(t, err)
	assert.NotZero(t, p.ID)

	_, err = f.svc.RegisterPatient(context.Background(), "Bearer tok", "Other", "john@example.com", "555-2020")
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	got, err := f.svc.CurrentPatient(context.Background(), "Bearer tok")
	require.NoError(t, err)
	assert.Equal(t, "John Doe", got.Name)
}
