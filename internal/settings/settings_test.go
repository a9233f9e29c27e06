package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/data"
)

var settingCols = []string{"key", "value", "kid", "nonce", "ciphertext", "tag", "updated_at"}

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(data.SettingModel{DB: db}, nil), mock
}

func settingRow(key, value string) *sqlmock.Rows {
	return sqlmock.NewRows(settingCols).AddRow(key, value, nil, nil, nil, nil, time.Now())
}

func TestProviderOrder_Default(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("FROM system_settings").
		WithArgs(data.SettingProviderOrder).
		WillReturnError(data.ErrRecordNotFound)

	order := svc.ProviderOrder(context.Background())
	assert.Equal(t, []string{"openai", "grok", "claude", "gemini"}, order)
}

func TestProviderOrder_Override(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("FROM system_settings").
		WithArgs(data.SettingProviderOrder).
		WillReturnRows(settingRow(data.SettingProviderOrder, `["claude","openai"]`))

	order := svc.ProviderOrder(context.Background())
	assert.Equal(t, []string{"claude", "openai"}, order)
}

func TestProviderOrder_MalformedFallsBack(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("FROM system_settings").
		WithArgs(data.SettingProviderOrder).
		WillReturnRows(settingRow(data.SettingProviderOrder, "not-json"))

	order := svc.ProviderOrder(context.Background())
	assert.Equal(t, []string{"openai", "grok", "claude", "gemini"}, order)
}

func TestThresholds_Defaults(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("FROM system_settings").
		WithArgs(data.SettingPersonThreshold).
		WillReturnError(data.ErrRecordNotFound)
	mock.ExpectQuery("FROM system_settings").
		WithArgs(data.SettingVehicleThreshold).
		WillReturnRows(settingRow(data.SettingVehicleThreshold, "0.8"))

	assert.InDelta(t, DefaultPersonThreshold, svc.PersonThreshold(context.Background()), 1e-9)
	assert.InDelta(t, 0.8, svc.VehicleThreshold(context.Background()), 1e-9)
}

func TestGetCaches(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("FROM system_settings").
		WithArgs(data.SettingStoreFrames).
		WillReturnRows(settingRow(data.SettingStoreFrames, "true"))

	// Second read must hit the cache: only one DB expectation above.
	assert.True(t, svc.StoreAnalysisFrames(context.Background()))
	assert.True(t, svc.StoreAnalysisFrames(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("single: watch the gate\ndoorbell: who rang\n"), 0o600))

	p := NewPromptFile(path)
	o := p.Overrides()
	assert.Equal(t, "watch the gate", o.Single)
	assert.Equal(t, "who rang", o.Doorbell)
	assert.Empty(t, o.Multi)

	require.NoError(t, os.WriteFile(path, []byte("multi: narrate frames\n"), 0o600))
	require.NoError(t, p.reload())
	assert.Equal(t, "narrate frames", p.Overrides().Multi)
	assert.Empty(t, p.Overrides().Single)
}

func TestPromptFile_Missing(t *testing.T) {
	p := NewPromptFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, PromptOverrides{}, p.Overrides())
}
