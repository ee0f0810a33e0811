package storage

import (
	"fmt"
	"time"

	"helpdesk/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketCredentials   = []byte("credentials")
	bucketSubscriptions = []byte("subscriptions")
	bucketSettings      = []byte("settings")
)

// VAPIDKeys is the Web Push signing key pair, base64url encoded.
type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
}

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketCredentials, bucketSubscriptions, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveCredentials replaces the stored login.
func (s *BboltStorage) SaveCredentials(creds models.Credentials) error {
	return s.put(bucketCredentials, &DBCredentials{
		Token:         creds.Token,
		AdminID:       creds.Admin.ID,
		AdminEmail:    creds.Admin.Email,
		AdminFullName: creds.Admin.FullName,
		SavedAt:       s.now().Unix(),
	})
}

// LoadCredentials returns models.ErrNotFound when nobody is logged in.
func (s *BboltStorage) LoadCredentials() (models.Credentials, error) {
	var dbCreds DBCredentials
	if err := s.get(bucketCredentials, credentialsKey, &dbCreds); err != nil {
		return models.Credentials{}, err
	}
	if dbCreds.Token == "" {
		return models.Credentials{}, models.ErrNotFound
	}
	return models.Credentials{
		Token: dbCreds.Token,
		Admin: models.Admin{
			ID:       dbCreds.AdminID,
			Email:    dbCreds.AdminEmail,
			FullName: dbCreds.AdminFullName,
		},
	}, nil
}

func (s *BboltStorage) DeleteCredentials() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete(credentialsKey)
	})
}

// UpsertSubscription stores a push endpoint. Re-subscribing refreshes its keys.
func (s *BboltStorage) UpsertSubscription(sub models.PushSubscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("subscription missing endpoint")
	}
	return s.put(bucketSubscriptions, &DBSubscription{
		Endpoint:  sub.Endpoint,
		Auth:      sub.Keys.Auth,
		P256dh:    sub.Keys.P256dh,
		CreatedAt: s.now().Unix(),
	})
}

func (s *BboltStorage) ListSubscriptions() ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(k, v []byte) error {
			var dbSub DBSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("corrupt subscription %s: %w", string(k), err)
			}
			subs = append(subs, models.PushSubscription{
				Endpoint: dbSub.Endpoint,
				Keys: models.PushKeys{
					Auth:   dbSub.Auth,
					P256dh: dbSub.P256dh,
				},
			})
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeleteSubscription(endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).Delete([]byte(endpoint))
	})
}

func (s *BboltStorage) SaveVAPIDKeys(keys VAPIDKeys) error {
	return s.put(bucketSettings, &DBVAPIDKeys{
		PublicKey:  keys.PublicKey,
		PrivateKey: keys.PrivateKey,
	})
}

// LoadVAPIDKeys returns models.ErrNotFound when no key pair was generated yet.
func (s *BboltStorage) LoadVAPIDKeys() (VAPIDKeys, error) {
	var dbKeys DBVAPIDKeys
	if err := s.get(bucketSettings, vapidKey, &dbKeys); err != nil {
		return VAPIDKeys{}, err
	}
	return VAPIDKeys{PublicKey: dbKeys.PublicKey, PrivateKey: dbKeys.PrivateKey}, nil
}

func (s *BboltStorage) put(bucket []byte, item Storeable) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := item.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal: %w", err)
		}
		return tx.Bucket(bucket).Put(item.Key(), data)
	})
}

func (s *BboltStorage) get(bucket, key []byte, item Storeable) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return models.ErrNotFound
		}
		return item.UnmarshalBinary(data)
	})
}
