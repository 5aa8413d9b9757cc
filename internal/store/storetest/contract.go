// Package storetest holds the behavioural checks every store.Repository must
// pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/intake-chat/internal/domain"
	"github.com/ashureev/intake-chat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRepositoryContract exercises repo through a full intake lifecycle.
func RunRepositoryContract(t *testing.T, repo store.Repository) {
	t.Helper()

	t.Run("CreateSession", func(t *testing.T) { testCreateSession(t, repo) })
	t.Run("UnknownSession", func(t *testing.T) { testUnknownSession(t, repo) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, repo) })
	t.Run("VehicleUpsertReplacesPosition", func(t *testing.T) { testVehicles(t, repo) })
	t.Run("InvalidVehicleRejected", func(t *testing.T) { testInvalidVehicle(t, repo) })
	t.Run("SyncCompletion", func(t *testing.T) { testSyncCompletion(t, repo) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, repo) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, repo.Ping(context.Background())) })
}

func testCreateSession(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	a, err := repo.CreateSession(ctx, "client-1")
	require.NoError(t, err)
	b, err := repo.CreateSession(ctx, "")
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "zip", a.CurrentStep)
	assert.False(t, a.IsComplete)
	assert.Nil(t, a.CompletedAt)

	got, err := repo.GetSession(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, "zip", got.CurrentStep)
	assert.WithinDuration(t, a.StartedAt, got.StartedAt, time.Millisecond)

	got, err = repo.GetSession(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ClientID)
}

func testUnknownSession(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	const missing = "00000000-0000-0000-0000-000000000000"

	_, err := repo.GetSession(ctx, missing)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	err = repo.AppendMessage(ctx, missing, domain.RoleUser, "hi")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	err = repo.SyncSession(ctx, &domain.Session{ID: missing, CurrentStep: "name"})
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	mileage := 100.0
	err = repo.UpsertVehicle(ctx, &domain.Vehicle{
		SessionID: missing, VIN: "V", UseType: domain.UseFarming,
		BlindSpot: "no", AnnualMileage: &mileage,
	})
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func testMessages(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	session, err := repo.CreateSession(ctx, "")
	require.NoError(t, err)

	require.NoError(t, repo.AppendMessage(ctx, session.ID, domain.RoleUser, "12345"))
	require.NoError(t, repo.AppendMessage(ctx, session.ID, domain.RoleAssistant, "What's your full name?"))
	require.NoError(t, repo.AppendMessage(ctx, session.ID, domain.RoleUser, "John Smith"))

	err = repo.AppendMessage(ctx, session.ID, domain.Role("system"), "nope")
	require.Error(t, err)

	messages, err := repo.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
	assert.Equal(t, "12345", messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)
	assert.Equal(t, "John Smith", messages[2].Content)
	assert.Equal(t, session.ID, messages[2].SessionID)
	assert.False(t, messages[0].Timestamp.IsZero())
}

func testVehicles(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	session, err := repo.CreateSession(ctx, "")
	require.NoError(t, err)

	days, miles, mileage, corrected := 5, 12.5, 9000.0, 12000.0
	commuter := &domain.Vehicle{
		SessionID: session.ID, Position: 0, VIN: "1HGBH41JXMN109186",
		UseType: domain.UseCommuting, BlindSpot: "yes",
		CommuteDays: &days, CommuteMiles: &miles,
	}
	farm := &domain.Vehicle{
		SessionID: session.ID, Position: 1, VIN: "tractor",
		UseType: domain.UseFarming, BlindSpot: "no",
		AnnualMileage: &mileage,
	}

	require.NoError(t, repo.UpsertVehicle(ctx, commuter))
	require.NoError(t, repo.UpsertVehicle(ctx, farm))
	require.NoError(t, repo.UpsertVehicle(ctx, commuter))

	retry := *farm
	retry.VIN = "tractor-2"
	retry.AnnualMileage = &corrected
	require.NoError(t, repo.UpsertVehicle(ctx, &retry))

	vehicles, err := repo.ListVehicles(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, vehicles, 2)

	assert.Equal(t, 0, vehicles[0].Position)
	assert.Equal(t, domain.UseCommuting, vehicles[0].UseType)
	require.NotNil(t, vehicles[0].CommuteDays)
	require.NotNil(t, vehicles[0].CommuteMiles)
	assert.Equal(t, 5, *vehicles[0].CommuteDays)
	assert.InDelta(t, 12.5, *vehicles[0].CommuteMiles, 1e-9)
	assert.Nil(t, vehicles[0].AnnualMileage)

	assert.Equal(t, 1, vehicles[1].Position)
	assert.Equal(t, "tractor-2", vehicles[1].VIN)
	require.NotNil(t, vehicles[1].AnnualMileage)
	assert.InDelta(t, 12000, *vehicles[1].AnnualMileage, 1e-9)
	assert.Nil(t, vehicles[1].CommuteDays)
	assert.Nil(t, vehicles[1].CommuteMiles)
}

func testInvalidVehicle(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	session, err := repo.CreateSession(ctx, "")
	require.NoError(t, err)

	mileage := 100.0
	err = repo.UpsertVehicle(ctx, &domain.Vehicle{
		SessionID: session.ID, VIN: "V", UseType: domain.UseCommuting,
		BlindSpot: "yes", AnnualMileage: &mileage,
	})
	require.ErrorIs(t, err, domain.ErrInvalidVehicle)

	vehicles, err := repo.ListVehicles(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, vehicles)
}

func testSyncCompletion(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	session, err := repo.CreateSession(ctx, "client-9")
	require.NoError(t, err)

	session.ZipCode = "12345"
	session.FullName = "John Smith"
	session.Email = "john@gmail.com"
	session.CurrentStep = "license_status"
	session.LicenseType = "personal"
	require.NoError(t, repo.SyncSession(ctx, session))

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345", got.ZipCode)
	assert.Equal(t, "John Smith", got.FullName)
	assert.Equal(t, "john@gmail.com", got.Email)
	assert.Equal(t, "license_status", got.CurrentStep)
	assert.Equal(t, "personal", got.LicenseType)
	assert.Equal(t, "client-9", got.ClientID)
	assert.False(t, got.IsComplete)
	assert.Nil(t, got.CompletedAt)

	completedAt := time.Now()
	session.LicenseStatus = "valid"
	session.IsComplete = true
	session.CompletedAt = &completedAt
	require.NoError(t, repo.SyncSession(ctx, session))

	got, err = repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, got.IsComplete)
	assert.Equal(t, "valid", got.LicenseStatus)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completedAt, *got.CompletedAt, time.Millisecond)
}

func testConcurrentAppends(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	session, err := repo.CreateSession(ctx, "")
	require.NoError(t, err)

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				errs <- repo.AppendMessage(ctx, session.ID, domain.RoleUser, "msg")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	messages, err := repo.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, writers*perWriter)
}
