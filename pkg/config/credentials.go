package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Sealed credentials file layout: magic, scrypt salt, secretbox nonce,
// sealed CBOR payload.
const (
	credentialsMagic = "ZKC1"
	saltSize         = 32
	nonceSize        = 24
	keySize          = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Credentials errors.
var (
	// ErrCredentialsFormat indicates a truncated or foreign file.
	ErrCredentialsFormat = errors.New("malformed credentials file")

	// ErrCredentialsKey indicates the passphrase does not open the file.
	ErrCredentialsKey = errors.New("wrong credentials passphrase")
)

// Credentials is the secret material the sealed file protects.
type Credentials struct {
	// Password is the terminal comm key password.
	Password uint32 `cbor:"1,keyasint"`
}

func deriveKey(passphrase string, salt []byte) (*[keySize]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// SealCredentials writes creds to path encrypted under passphrase.
func SealCredentials(path, passphrase string, creds Credentials) error {
	payload, err := cbor.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return err
	}

	out := make([]byte, 0, len(credentialsMagic)+saltSize+nonceSize+len(payload)+secretbox.Overhead)
	out = append(out, credentialsMagic...)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, payload, &nonce, key)

	return os.WriteFile(path, out, 0o600)
}

// OpenCredentials reads and decrypts a sealed credentials file.
func OpenCredentials(path, passphrase string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	header := len(credentialsMagic) + saltSize + nonceSize
	if len(data) < header+secretbox.Overhead {
		return Credentials{}, ErrCredentialsFormat
	}
	if string(data[:len(credentialsMagic)]) != credentialsMagic {
		return Credentials{}, ErrCredentialsFormat
	}

	salt := data[len(credentialsMagic) : len(credentialsMagic)+saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], data[len(credentialsMagic)+saltSize:header])

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return Credentials{}, err
	}

	payload, ok := secretbox.Open(nil, data[header:], &nonce, key)
	if !ok {
		return Credentials{}, ErrCredentialsKey
	}

	var creds Credentials
	if err := cbor.Unmarshal(payload, &creds); err != nil {
		return Credentials{}, ErrCredentialsFormat
	}
	return creds, nil
}
