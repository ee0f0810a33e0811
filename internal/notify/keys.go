package notify

import (
	"errors"
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"

	"helpdesk/internal/models"
	"helpdesk/internal/storage"
)

type keyStore interface {
	LoadVAPIDKeys() (storage.VAPIDKeys, error)
	SaveVAPIDKeys(keys storage.VAPIDKeys) error
}

// EnsureVAPIDKeys fills missing keys in cfg from store, generating and saving a pair on first run.
func EnsureVAPIDKeys(cfg *Config, store keyStore) error {
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		return nil
	}

	keys, err := store.LoadVAPIDKeys()
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotFound):
		keys.PrivateKey, keys.PublicKey, err = webpush.GenerateVAPIDKeys()
		if err != nil {
			return fmt.Errorf("failed to generate VAPID keys: %w", err)
		}
		if err := store.SaveVAPIDKeys(keys); err != nil {
			return fmt.Errorf("failed to save VAPID keys: %w", err)
		}
	default:
		return fmt.Errorf("failed to load VAPID keys: %w", err)
	}

	cfg.VAPIDPublicKey = keys.PublicKey
	cfg.VAPIDPrivateKey = keys.PrivateKey
	return nil
}
