package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

var credentialsKey = []byte("current")

type DBCredentials struct {
	Token         string `msgpack:"token"`
	AdminID       string `msgpack:"adminId"`
	AdminEmail    string `msgpack:"adminEmail"`
	AdminFullName string `msgpack:"adminFullName"`
	SavedAt       int64  `msgpack:"savedAt"`
}

// Key is constant: the console holds a single operator login.
func (c *DBCredentials) Key() []byte {
	return credentialsKey
}

func (c *DBCredentials) MarshalBinary() (data []byte, err error) {
	type alias DBCredentials
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredentials) UnmarshalBinary(data []byte) error {
	type alias DBCredentials
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBSubscription struct {
	Endpoint  string `msgpack:"endpoint"`
	Auth      string `msgpack:"auth"`
	P256dh    string `msgpack:"p256dh"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (s *DBSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSubscription) UnmarshalBinary(data []byte) error {
	type alias DBSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}

var vapidKey = []byte("vapid")

type DBVAPIDKeys struct {
	PublicKey  string `msgpack:"publicKey"`
	PrivateKey string `msgpack:"privateKey"`
}

func (k *DBVAPIDKeys) Key() []byte {
	return vapidKey
}

func (k *DBVAPIDKeys) MarshalBinary() (data []byte, err error) {
	type alias DBVAPIDKeys
	return msgpack.Marshal((*alias)(k))
}

func (k *DBVAPIDKeys) UnmarshalBinary(data []byte) error {
	type alias DBVAPIDKeys
	return msgpack.Unmarshal(data, (*alias)(k))
}
