package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Keep the current SPARTN decryption keys.
 *
 * Description:	The keys arrive as a UBX-RXM-SPARTNKEY frame from the
 *		correction service.  The receiver only holds them in RAM, so
 *		they are saved to a small YAML file and injected again every
 *		time the receiver is detected.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type keyFile struct {
	Key     string    `yaml:"key"`
	Updated time.Time `yaml:"updated"`
}

type KeyStore struct {
	path string

	mu      sync.Mutex
	key     []byte
	updated time.Time
}

// OpenKeyStore loads path if it exists.  An empty path keeps the keys in
// memory only.
func OpenKeyStore(path string) (*KeyStore, error) {
	var ks = &KeyStore{path: path}

	if path == "" {
		return ks, nil
	}

	var data, readErr = os.ReadFile(path)
	if errors.Is(readErr, fs.ErrNotExist) {
		return ks, nil
	} else if readErr != nil {
		return nil, readErr
	}

	var kf keyFile

	var unmarshalErr = yaml.Unmarshal(data, &kf)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("key file %s: %w", path, unmarshalErr)
	}

	var key, hexErr = hex.DecodeString(kf.Key)
	if hexErr != nil {
		return nil, fmt.Errorf("key file %s: %w", path, hexErr)
	}

	ks.key = key
	ks.updated = kf.Updated

	return ks, nil
}

// Get returns a copy of the saved keys, nil if there are none.
func (ks *KeyStore) Get() []byte {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if len(ks.key) == 0 {
		return nil
	}

	return append([]byte(nil), ks.key...)
}

func (ks *KeyStore) Updated() time.Time {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	return ks.updated
}

// Set replaces the keys and saves them.  Unchanged keys are not written.
func (ks *KeyStore) Set(key []byte, now time.Time) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if string(key) == string(ks.key) {
		return nil
	}

	ks.key = append([]byte(nil), key...)
	ks.updated = now

	if ks.path == "" {
		return nil
	}

	var data, marshalErr = yaml.Marshal(keyFile{Key: hex.EncodeToString(ks.key), Updated: now.UTC()})
	if marshalErr != nil {
		return marshalErr
	}

	// Write then rename so a crash never leaves a truncated file.
	var tmp = filepath.Join(filepath.Dir(ks.path), "."+filepath.Base(ks.path)+".tmp")

	var writeErr = os.WriteFile(tmp, data, 0o600)
	if writeErr != nil {
		return writeErr
	}

	return os.Rename(tmp, ks.path)
}
