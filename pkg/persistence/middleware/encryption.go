package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
)

// envelopeKey holds the sealed payload inside an encrypted map.
const envelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are older keys tried when the active key cannot open a record.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.InstanceStore
	config EncryptionConfig
}

// NewEncryptionMiddleware seals the state data and params of every instance
// with AES-GCM. Identity, chain links and status stay readable so stores can
// index and guard updates.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return func(next ports.InstanceStore) ports.InstanceStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	sealed, err := m.seal(inst)
	if err != nil {
		return nil, err
	}
	saved, err := m.next.Save(ctx, sealed)
	if err != nil {
		return nil, err
	}
	return m.open(saved)
}

func (m *encryptionMiddleware) Get(ctx context.Context, id string) (*domain.StateExecutionInstance, error) {
	inst, err := m.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.open(inst)
}

func (m *encryptionMiddleware) Update(ctx context.Context, inst *domain.StateExecutionInstance, allowed ...domain.ExecutionStatus) error {
	sealed, err := m.seal(inst)
	if err != nil {
		return err
	}
	return m.next.Update(ctx, sealed, allowed...)
}

func (m *encryptionMiddleware) ListByRun(ctx context.Context, runID string) ([]*domain.StateExecutionInstance, error) {
	list, err := m.next.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i, inst := range list {
		if list[i], err = m.open(inst); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (m *encryptionMiddleware) seal(inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	out := inst.Copy()
	var err error
	for name, data := range out.StateExecutionMap {
		if data == nil {
			continue
		}
		if data.Data, err = m.sealMap(data.Data); err != nil {
			return nil, fmt.Errorf("failed to encrypt data of %s: %w", name, err)
		}
	}
	if out.StateParams, err = m.sealMap(out.StateParams); err != nil {
		return nil, fmt.Errorf("failed to encrypt state params: %w", err)
	}
	return out, nil
}

func (m *encryptionMiddleware) open(inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	var err error
	for name, data := range inst.StateExecutionMap {
		if data == nil {
			continue
		}
		if data.Data, err = m.openMap(data.Data); err != nil {
			return nil, fmt.Errorf("failed to decrypt data of %s: %w", name, err)
		}
	}
	if inst.StateParams, err = m.openMap(inst.StateParams); err != nil {
		return nil, fmt.Errorf("failed to decrypt state params: %w", err)
	}
	return inst, nil
}

func (m *encryptionMiddleware) sealMap(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return in, nil
	}
	plainText, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, err
	}
	return map[string]any{envelopeKey: base64.StdEncoding.EncodeToString(ciphertext)}, nil
}

// openMap returns maps without an envelope unchanged, so records written
// before encryption was enabled stay readable.
func (m *encryptionMiddleware) openMap(in map[string]any) (map[string]any, error) {
	encoded, ok := in[envelopeKey].(string)
	if !ok {
		return in, nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(plainText, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted data: %w", err)
	}
	return out, nil
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
