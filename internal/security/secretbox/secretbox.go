// Package secretbox cifra material sensible en reposo (AES-256-GCM). La clave de
// cada uso se deriva de la master key con HKDF-SHA256, así un mismo master key no
// se reutiliza entre el fs secret store y otros consumidores.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceSizeGCM      = 12  // AES-GCM nonce size recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)
)

var ErrInvalidCiphertext = errors.New("secretbox: invalid ciphertext")

// Box cifra/descifra con una clave derivada.
type Box struct {
	aead cipher.AEAD
}

// ParseKey acepta la master key en base64 (std o raw), hex (64 chars) o 32 bytes crudos.
func ParseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if len(key) == 64 {
		if h, err := hex.DecodeString(key); err == nil {
			return h, nil
		}
	}
	if len(key) == requiredKeyLength {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("clave inválida: %d bytes (requiere %d)", len(key), requiredKeyLength)
}

// GenerateKey devuelve una master key nueva en base64.
func GenerateKey() (string, error) {
	k := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", fmt.Errorf("random: %w", err)
	}
	return base64.StdEncoding.EncodeToString(k), nil
}

// New deriva una clave para info ("secret-store/fs", ...) y arma el AEAD.
func New(master []byte, info string) (*Box, error) {
	if len(master) != requiredKeyLength {
		return nil, fmt.Errorf("master key: se requieren %d bytes, obtuvo %d", requiredKeyLength, len(master))
	}
	derived := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), derived); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal cifra plain ligándolo a aad (ej: el path del secreto) y devuelve
// base64(nonce)|base64(ciphertext).
func (b *Box) Seal(plain, aad []byte) (string, error) {
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := b.aead.Seal(nil, nonce, plain, aad)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open revierte Seal. Un aad distinto o un byte alterado falla la autenticación.
func (b *Box) Open(sealed string, aad []byte) ([]byte, error) {
	parts := strings.Split(sealed, sep)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: esperado base64(nonce)|base64(ciphertext)", ErrInvalidCiphertext)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSizeGCM {
		return nil, fmt.Errorf("%w: nonce", ErrInvalidCiphertext)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext", ErrInvalidCiphertext)
	}
	pt, err := b.aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm auth/decrypt", ErrInvalidCiphertext)
	}
	return pt, nil
}
