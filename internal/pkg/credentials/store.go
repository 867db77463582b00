package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/podforge/podforge/app/models"
	"github.com/podforge/podforge/internal/pkg/billing"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maskMarker appears in every masked value. Incoming values containing it
// are treated as an unchanged redisplay of a masked secret and skipped on
// write, so resubmitting an admin form cannot corrupt stored secrets.
const maskMarker = "****"

// Credentials is one provider's secret blob: enumerated string keys only,
// validated against the provider's recognized key set at the storage
// boundary.
type Credentials map[string]string

// Recognized keys per provider. Writes carrying any other key are rejected.
var recognizedKeys = map[billing.Provider][]string{
	billing.ProviderStripe: {"secret_key", "webhook_secret", "publishable_key"},
	billing.ProviderPayPal: {"client_id", "client_secret", "webhook_id"},
}

// Store persists provider credentials. Every read path masks secrets;
// only Raw returns the stored values, and only for adapter construction.
type Store struct {
	db *gorm.DB
}

// NewStore creates a credential store backed by GORM.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Record is the masked admin-facing view of one provider's configuration.
type Record struct {
	Provider    billing.Provider `json:"provider"`
	Enabled     bool             `json:"enabled"`
	TestMode    bool             `json:"test_mode"`
	Credentials Credentials      `json:"credentials"`
}

// Get returns the masked record for one provider.
func (s *Store) Get(provider billing.Provider) (*Record, error) {
	row, err := s.row(provider)
	if err != nil {
		return nil, err
	}
	creds, err := decode(row.CredentialsJSON)
	if err != nil {
		return nil, err
	}
	return &Record{
		Provider:    provider,
		Enabled:     row.Enabled,
		TestMode:    row.TestMode,
		Credentials: Mask(creds),
	}, nil
}

// List returns masked records for every supported provider, including ones
// that have never been configured.
func (s *Store) List() ([]Record, error) {
	out := make([]Record, 0, len(recognizedKeys))
	for _, provider := range []billing.Provider{billing.ProviderStripe, billing.ProviderPayPal} {
		rec, err := s.Get(provider)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				rec = &Record{Provider: provider, TestMode: true, Credentials: Credentials{}}
			} else {
				return nil, err
			}
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Raw returns the stored credential values for adapter construction. Not
// for any response path.
func (s *Store) Raw(provider billing.Provider) (Credentials, *models.GatewayCredential, error) {
	row, err := s.row(provider)
	if err != nil {
		return nil, nil, err
	}
	creds, err := decode(row.CredentialsJSON)
	if err != nil {
		return nil, nil, err
	}
	return creds, row, nil
}

// Upsert writes one provider's configuration. Incoming credential values
// merge over the stored blob: empty values and masked redisplays never
// overwrite a stored secret.
func (s *Store) Upsert(provider billing.Provider, enabled, testMode bool, incoming Credentials) (*Record, error) {
	if err := validateKeys(provider, incoming); err != nil {
		return nil, err
	}

	stored := Credentials{}
	if row, err := s.row(provider); err == nil {
		if stored, err = decode(row.CredentialsJSON); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	merged := Merge(stored, incoming)
	blob, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}

	row := &models.GatewayCredential{
		Provider:        string(provider),
		Enabled:         enabled,
		TestMode:        testMode,
		CredentialsJSON: string(blob),
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled",
			"test_mode",
			"credentials_json",
			"updated_at",
		}),
	}).Create(row).Error; err != nil {
		return nil, err
	}

	return &Record{
		Provider:    provider,
		Enabled:     enabled,
		TestMode:    testMode,
		Credentials: Mask(merged),
	}, nil
}

func (s *Store) row(provider billing.Provider) (*models.GatewayCredential, error) {
	var row models.GatewayCredential
	if err := s.db.Where("provider = ?", string(provider)).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Mask returns a copy with every value masked. Values of eight characters
// or fewer pass through untouched; there is not enough material to both
// mask and keep them recognizable.
func Mask(creds Credentials) Credentials {
	out := make(Credentials, len(creds))
	for k, v := range creds {
		out[k] = MaskValue(v)
	}
	return out
}

// MaskValue reduces a secret to first4****last4.
func MaskValue(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:4] + maskMarker + v[len(v)-4:]
}

// Merge overlays incoming values onto stored ones. A field is only
// overwritten when the incoming value is non-empty and does not itself
// contain the mask marker.
func Merge(stored, incoming Credentials) Credentials {
	out := make(Credentials, len(stored)+len(incoming))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range incoming {
		v = strings.TrimSpace(v)
		if v == "" || strings.Contains(v, maskMarker) {
			continue
		}
		out[k] = v
	}
	return out
}

func validateKeys(provider billing.Provider, incoming Credentials) error {
	allowed, ok := recognizedKeys[provider]
	if !ok {
		return billing.NotFoundError(fmt.Sprintf("unknown payment gateway %q", provider))
	}
	for k := range incoming {
		if !containsKey(allowed, k) {
			return fmt.Errorf("unrecognized credential key %q for gateway %s", k, provider)
		}
	}
	return nil
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

func decode(blob string) (Credentials, error) {
	creds := Credentials{}
	if strings.TrimSpace(blob) == "" {
		return creds, nil
	}
	if err := json.Unmarshal([]byte(blob), &creds); err != nil {
		return nil, fmt.Errorf("corrupt credential blob: %w", err)
	}
	return creds, nil
}
