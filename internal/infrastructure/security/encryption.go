// Package security provides AES encryption utilities
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"log"
)

// normalizeKey resolves a configured key into raw AES key bytes. Keys are
// usually hex strings generated by GenerateSecureKey, but raw 16/24/32 byte
// strings are accepted too.
func normalizeKey(key string) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.New("empty encryption key")
	}

	var keyBytes []byte
	if len(key) == 32 || len(key) == 48 || len(key) == 64 {
		decoded, err := hex.DecodeString(key)
		if err == nil && (len(decoded) == 16 || len(decoded) == 24 || len(decoded) == 32) {
			keyBytes = decoded
		} else {
			keyBytes = []byte(key)
		}
	} else {
		keyBytes = []byte(key)
	}

	if len(keyBytes) != 16 && len(keyBytes) != 24 && len(keyBytes) != 32 {
		return nil, errors.New("invalid key length")
	}
	return keyBytes, nil
}

// Encrypt encrypts data using AES-GCM with the provided key
func Encrypt(data, key string) (string, error) {
	keyBytes, err := normalizeKey(key)
	if err != nil {
		log.Printf("ERROR: Encrypt key error: %v", err)
		return "", err
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		log.Printf("ERROR: aes.NewCipher failed: %v", err)
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		log.Printf("ERROR: cipher.NewGCM failed: %v", err)
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Printf("ERROR: Failed to generate nonce: %v", err)
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(data), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts data using AES-GCM with the provided key
func Decrypt(encrypted, key string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		log.Printf("ERROR: base64 decode failed: %v", err)
		return "", err
	}

	keyBytes, err := normalizeKey(key)
	if err != nil {
		log.Printf("ERROR: Decrypt key error: %v", err)
		return "", err
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		log.Printf("ERROR: aes.NewCipher failed in Decrypt: %v", err)
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		log.Printf("ERROR: cipher.NewGCM failed in Decrypt: %v", err)
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		log.Printf("ERROR: invalid ciphertext - too short")
		return "", errors.New("invalid ciphertext")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Printf("ERROR: gcm.Open failed: %v", err)
		return "", err
	}

	return string(plaintext), nil
}

// EncryptRewardPayload encrypts a paste-style reward payload for storage at
// rest. Payloads only exist in plaintext inside a dispense response.
func EncryptRewardPayload(payload, aesKey string) (string, error) {
	return Encrypt(payload, aesKey)
}

// DecryptRewardPayload decrypts a stored reward payload.
func DecryptRewardPayload(encrypted, aesKey string) (string, error) {
	return Decrypt(encrypted, aesKey)
}
