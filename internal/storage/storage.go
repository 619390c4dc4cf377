// Package storage provides the persisted key-value state of the hub.
// All data is stored in the config.json file.
package storage

// KV is the minimal key-value contract used by stores that persist small
// pieces of client state.
type KV interface {
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error
}

// Storage defines the data operations interface
type Storage interface {
	KV

	// SetConfigBool stores a boolean value under key.
	SetConfigBool(key string, value bool) error

	// Close closes the storage
	Close() error
}
