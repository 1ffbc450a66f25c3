package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"fnrelay.dev/ferr"
	"fnrelay.dev/store"
)

// KeyFile is the single durable record described in §3: the encryption
// engine's key material plus the secrets the external auth collaborator
// and C3's hash service need.
type KeyFile struct {
	CurrentKey             string    `json:"current_key"`
	CurrentVersion         string    `json:"current_version"`
	PhasedOutKey           *string   `json:"phased_out_key"`
	PhasedOutVersion       *string   `json:"phased_out_version"`
	LastRotationFinishedAt time.Time `json:"last_rotation_finished_at"`
	SessionSecret          string    `json:"session_secret"`
	HashKey                string    `json:"hash_key"`
}

// LoadOrInitialize implements C2's ensure_initialized: parse and validate
// an existing key file, or generate a fresh one and write it atomically.
func LoadOrInitialize(path string) (*KeyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		return initializeKeyFile(path)
	}

	var kf KeyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%w: %v", ferr.ErrKeyStorageCorruption, err)
	}
	if err := kf.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ferr.ErrKeyStorageCorruption, err)
	}
	return &kf, nil
}

func initializeKeyFile(path string) (*KeyFile, error) {
	currentKey, err := randomKeyMaterial()
	if err != nil {
		return nil, err
	}
	sessionSecret, err := randomKeyMaterial()
	if err != nil {
		return nil, err
	}
	hashKey, err := randomKeyMaterial()
	if err != nil {
		return nil, err
	}

	kf := &KeyFile{
		CurrentKey:             currentKey,
		CurrentVersion:         "A",
		LastRotationFinishedAt: time.Now().UTC(),
		SessionSecret:          sessionSecret,
		HashKey:                hashKey,
	}
	if err := kf.Save(path); err != nil {
		return nil, err
	}
	return kf, nil
}

// Save writes the key file atomically: temp file with a random suffix,
// fsync, rename over the target.
func (kf *KeyFile) Save(path string) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key file: %w", err)
	}
	return store.WriteFileAtomic(path, data, 0600)
}

// validate enforces §3's invariants: both keys decode to 32 bytes, versions
// are single uppercase letters, and partial phased-out configuration is a
// corruption error.
func (kf *KeyFile) validate() error {
	if _, err := decodeKey(kf.CurrentKey); err != nil {
		return fmt.Errorf("invalid current_key: %w", err)
	}
	if err := validateVersion(kf.CurrentVersion); err != nil {
		return fmt.Errorf("invalid current_version: %w", err)
	}
	if (kf.PhasedOutKey == nil) != (kf.PhasedOutVersion == nil) {
		return fmt.Errorf("partial phased-out key configuration")
	}
	if kf.PhasedOutKey != nil {
		if _, err := decodeKey(*kf.PhasedOutKey); err != nil {
			return fmt.Errorf("invalid phased_out_key: %w", err)
		}
		if err := validateVersion(*kf.PhasedOutVersion); err != nil {
			return fmt.Errorf("invalid phased_out_version: %w", err)
		}
		if *kf.PhasedOutVersion == kf.CurrentVersion {
			return fmt.Errorf("current and phased-out versions coincide")
		}
	}
	if kf.LastRotationFinishedAt.IsZero() {
		return fmt.Errorf("last_rotation_finished_at is zero")
	}
	if _, err := decodeKey(kf.SessionSecret); err != nil {
		return fmt.Errorf("invalid session_secret: %w", err)
	}
	if _, err := decodeKey(kf.HashKey); err != nil {
		return fmt.Errorf("invalid hash_key: %w", err)
	}
	return nil
}

// Engine builds an Engine from the key file's current contents.
func (kf *KeyFile) Engine() (*Engine, error) {
	currentKey, version, phasedVersion, phasedKey, err := kf.decodedKeys()
	if err != nil {
		return nil, err
	}
	return NewEngine(version, currentKey, phasedVersion, phasedKey)
}

// ApplyTo pushes the key file's current contents into an already-running
// engine, used by C11 to move a live engine through STARTING/REWRITING/
// FINALIZING without handing request handlers a new *Engine instance.
func (kf *KeyFile) ApplyTo(engine *Engine) error {
	currentKey, version, phasedVersion, phasedKey, err := kf.decodedKeys()
	if err != nil {
		return err
	}
	return engine.UpdateKeys(version, currentKey, phasedVersion, phasedKey)
}

func (kf *KeyFile) decodedKeys() (currentKey [32]byte, version byte, phasedVersion byte, phasedKey *[32]byte, err error) {
	currentKey, err = decodeKey(kf.CurrentKey)
	if err != nil {
		return
	}
	version = kf.CurrentVersion[0]
	if kf.PhasedOutKey != nil {
		key, decodeErr := decodeKey(*kf.PhasedOutKey)
		if decodeErr != nil {
			err = decodeErr
			return
		}
		phasedKey = &key
		phasedVersion = (*kf.PhasedOutVersion)[0]
	}
	return
}

// Hasher builds C3's hash service from the key file's hash_key.
func (kf *KeyFile) Hasher() (*Hasher, error) {
	hashKey, err := decodeKey(kf.HashKey)
	if err != nil {
		return nil, err
	}
	return NewHasher(hashKey), nil
}

// NextVersion implements the A→B, … Z→A cyclic version sequence.
func NextVersion(current string) string {
	if len(current) != 1 {
		return "A"
	}
	c := current[0]
	if c < 'A' || c > 'Z' {
		return "A"
	}
	if c == 'Z' {
		return "A"
	}
	return string(c + 1)
}

func validateVersion(v string) error {
	if len(v) != 1 || v[0] < 'A' || v[0] > 'Z' {
		return fmt.Errorf("version must be a single uppercase letter, got %q", v)
	}
	return nil
}

// RandomKeyMaterial generates fresh base64-encoded 32-byte key material,
// used by C11 to mint the new current key at the STARTING transition.
func RandomKeyMaterial() (string, error) {
	return randomKeyMaterial()
}

func randomKeyMaterial() (string, error) {
	b := make([]byte, keyMaterialSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeKey(encoded string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return out, fmt.Errorf("not valid base64: %w", err)
	}
	if len(raw) != keyMaterialSize {
		return out, fmt.Errorf("expected %d bytes, got %d", keyMaterialSize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
