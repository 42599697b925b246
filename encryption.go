package verdict

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// encryptionNonceSize is the AES-GCM nonce size.
	encryptionNonceSize = 12
	// encryptionSaltSize is the PBKDF2 salt size.
	encryptionSaltSize = 32
	// encryptionKeySize is the AES-256 key size.
	encryptionKeySize = 32
	// pbkdf2Iterations is the PBKDF2 iteration count for password-derived
	// keys.
	pbkdf2Iterations = 100000
)

// EncryptionConfig enables at-rest encryption for stored documents. The
// zero value disables it.
type EncryptionConfig struct {
	// Key is a raw 32-byte AES-256 key. It takes precedence over
	// Password.
	Key []byte `json:"-" yaml:"-"`
	// Password derives a key via PBKDF2 when Key is empty.
	Password string `json:"-" yaml:"-"`
}

func (c EncryptionConfig) enabled() bool {
	return len(c.Key) > 0 || c.Password != ""
}

// Encryptor seals and opens byte documents with AES-256-GCM. A fresh
// random nonce is generated per document and prepended to the ciphertext.
type Encryptor struct {
	gcm  cipher.AEAD
	salt []byte
}

// NewEncryptor creates an encryptor from the config. Password-based
// encryptors derive their key from a fresh random salt, available via
// Salt for storage alongside the ciphertext.
func NewEncryptor(config EncryptionConfig) (*Encryptor, error) {
	if len(config.Key) > 0 {
		return NewEncryptorWithKey(config.Key)
	}
	if config.Password == "" {
		return nil, errors.New("encryption requires a key or password")
	}

	salt := make([]byte, encryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return NewEncryptorWithSalt(config.Password, salt)
}

// NewEncryptorWithSalt derives the key from password and an existing salt.
// Opening a stored document requires the salt it was sealed under.
func NewEncryptorWithSalt(password string, salt []byte) (*Encryptor, error) {
	if len(salt) != encryptionSaltSize {
		return nil, errors.New("invalid salt size")
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, encryptionKeySize, sha256.New)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt}, nil
}

// NewEncryptorWithKey creates an encryptor from a raw 32-byte key. No salt
// is involved.
func NewEncryptorWithKey(key []byte) (*Encryptor, error) {
	if len(key) != encryptionKeySize {
		return nil, errors.New("encryption key must be 32 bytes for AES-256")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm}, nil
}

// Salt returns the key-derivation salt, nil for raw-key encryptors.
func (e *Encryptor) Salt() []byte {
	return e.salt
}

// Seal encrypts plaintext and returns the nonce-prefixed ciphertext.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, encryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a nonce-prefixed ciphertext produced by Seal.
func (e *Encryptor) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < encryptionNonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:encryptionNonceSize], ciphertext[encryptionNonceSize:]
	return e.gcm.Open(nil, nonce, sealed, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
