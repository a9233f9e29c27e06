package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/technosupport/ts-sentinel/internal/ai"
	"github.com/technosupport/ts-sentinel/internal/crypto"
	"github.com/technosupport/ts-sentinel/internal/data"
)

// Default match thresholds when the settings rows are absent.
const (
	DefaultPersonThreshold  = 0.70
	DefaultVehicleThreshold = 0.65
)

const cacheTTL = 30 * time.Second

// Service reads typed settings from the system_settings table, decrypting
// provider API keys through the keyring. Reads are cached briefly; the
// pipeline consults settings on every event.
type Service struct {
	store   data.SettingModel
	keyring *crypto.Keyring

	mu    sync.Mutex
	cache map[string]cachedValue
}

type cachedValue struct {
	value   string
	ok      bool
	expires time.Time
}

func NewService(store data.SettingModel, keyring *crypto.Keyring) *Service {
	return &Service{
		store:   store,
		keyring: keyring,
		cache:   make(map[string]cachedValue),
	}
}

// Invalidate drops the read cache, forcing the next read through to the DB.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]cachedValue)
	s.mu.Unlock()
}

func (s *Service) get(ctx context.Context, key string) (string, bool) {
	s.mu.Lock()
	if c, hit := s.cache[key]; hit && time.Now().Before(c.expires) {
		s.mu.Unlock()
		return c.value, c.ok
	}
	s.mu.Unlock()

	var value string
	ok := false
	row, err := s.store.Get(ctx, key)
	if err == nil {
		value, ok = row.Value, true
	} else if !errors.Is(err, data.ErrRecordNotFound) {
		log.Printf("[WARN] Settings: read of %q failed: %v", key, err)
		return "", false
	}

	s.mu.Lock()
	s.cache[key] = cachedValue{value: value, ok: ok, expires: time.Now().Add(cacheTTL)}
	s.mu.Unlock()
	return value, ok
}

func (s *Service) getBool(ctx context.Context, key string, def bool) bool {
	v, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (s *Service) getFloat(ctx context.Context, key string, def float64) float64 {
	v, ok := s.get(ctx, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// ProviderOrder returns the configured chain order, falling back to the
// built-in default when the row is absent or malformed.
func (s *Service) ProviderOrder(ctx context.Context) []string {
	v, ok := s.get(ctx, data.SettingProviderOrder)
	if !ok || v == "" {
		return ai.DefaultProviderOrder
	}
	var order []string
	if err := json.Unmarshal([]byte(v), &order); err != nil || len(order) == 0 {
		log.Printf("[WARN] Settings: malformed %s, using default order", data.SettingProviderOrder)
		return ai.DefaultProviderOrder
	}
	return order
}

// APIKey returns the decrypted provider API key, or "" when not configured.
func (s *Service) APIKey(ctx context.Context, providerTag string) string {
	key := data.SettingAPIKeyPrefix + providerTag
	row, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, data.ErrRecordNotFound) {
			log.Printf("[WARN] Settings: API key read for %s failed: %v", providerTag, err)
		}
		return ""
	}
	if row.KID == nil || len(row.Ciphertext) == 0 {
		return ""
	}
	plain, err := s.keyring.UnwrapSecret(*row.KID, row.Nonce, row.Ciphertext, row.Tag, key)
	if err != nil {
		log.Printf("[ERROR] Settings: cannot decrypt API key for %s: %v", providerTag, err)
		return ""
	}
	return string(plain)
}

// SetAPIKey wraps and stores a provider API key.
func (s *Service) SetAPIKey(ctx context.Context, providerTag, apiKey string) error {
	key := data.SettingAPIKeyPrefix + providerTag
	kid, nonce, ct, tag, err := s.keyring.WrapSecret([]byte(apiKey), key)
	if err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, &data.Setting{
		Key: key, KID: &kid, Nonce: nonce, Ciphertext: ct, Tag: tag,
	}); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// DescriptionPrompt returns the stored prompt override, honoring the A/B
// variant when enabled. ok is false when no override exists.
func (s *Service) DescriptionPrompt(ctx context.Context, abBucket bool) (string, bool) {
	if abBucket && s.getBool(ctx, data.SettingABTestEnabled, false) {
		if p, ok := s.get(ctx, data.SettingABTestPrompt); ok && p != "" {
			return p, true
		}
	}
	p, ok := s.get(ctx, data.SettingDescriptionPrompt)
	if !ok || p == "" {
		return "", false
	}
	return p, true
}

func (s *Service) FaceRecognitionEnabled(ctx context.Context) bool {
	return s.getBool(ctx, data.SettingFaceRecognition, false)
}

func (s *Service) VehicleRecognitionEnabled(ctx context.Context) bool {
	return s.getBool(ctx, data.SettingVehicleRecog, false)
}

func (s *Service) StoreAnalysisFrames(ctx context.Context) bool {
	return s.getBool(ctx, data.SettingStoreFrames, false)
}

func (s *Service) PersonThreshold(ctx context.Context) float64 {
	return s.getFloat(ctx, data.SettingPersonThreshold, DefaultPersonThreshold)
}

func (s *Service) VehicleThreshold(ctx context.Context) float64 {
	return s.getFloat(ctx, data.SettingVehicleThreshold, DefaultVehicleThreshold)
}

func (s *Service) AutoCreatePersons(ctx context.Context) bool {
	return s.getBool(ctx, data.SettingAutoCreatePersons, true)
}

func (s *Service) AutoCreateVehicles(ctx context.Context) bool {
	return s.getBool(ctx, data.SettingAutoCreateVehicle, true)
}
