package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// Envelope formats recognised by Open.
const (
	FormatGCM   = "GCM3NCR0"
	FormatCBC   = "3NCR0PTD"
	FormatPlain = "plain"

	pbkdf2Rounds = 100000
	keyLen       = 32
	saltLen      = 16
	nonceLen     = 12
)

var ErrPasswordRequired = errors.New("object is encrypted and no password was given")

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Rounds, keyLen, sha256.New)
}

// Seal wraps data in the GCM envelope:
// magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
// An empty password returns data unchanged.
func Seal(data []byte, password string) ([]byte, error) {
	if password == "" {
		return data, nil
	}
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(FormatGCM)+saltLen+nonceLen+len(data)+gcm.Overhead())
	out = append(out, FormatGCM...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Open detects the envelope by its magic and decrypts it. Data without a
// known magic is returned as is with FormatPlain.
func Open(data []byte, password string) ([]byte, string, error) {
	if len(data) < 8 {
		return data, FormatPlain, nil
	}
	switch string(data[:8]) {
	case FormatGCM:
		if password == "" {
			return nil, FormatGCM, ErrPasswordRequired
		}
		plain, err := openGCM(data, password)
		return plain, FormatGCM, err
	case FormatCBC:
		if password == "" {
			return nil, FormatCBC, ErrPasswordRequired
		}
		plain, err := openCBC(data, password)
		return plain, FormatCBC, err
	default:
		return data, FormatPlain, nil
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func openGCM(data []byte, password string) ([]byte, error) {
	const header = 8 + saltLen + nonceLen
	if len(data) < header+16 {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(data))
	}
	salt := data[8 : 8+saltLen]
	nonce := data[8+saltLen : header]

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, data[header:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}

// openCBC reads the older CBC envelope:
// magic(8) + sha256(32) + length(8) + salt(16) + iv(16) + ciphertext.
func openCBC(data []byte, password string) ([]byte, error) {
	if len(data) < 8+32+8+saltLen+aes.BlockSize {
		return nil, fmt.Errorf("legacy CBC data too short: %d bytes", len(data))
	}
	storedHash := data[8:40]
	length := binary.BigEndian.Uint64(data[40:48])
	body := data[48:]
	if uint64(len(body)) != length {
		return nil, fmt.Errorf("length mismatch: expected %d, got %d", length, len(body))
	}
	sum := sha256.Sum256(body)
	if !bytes.Equal(storedHash, sum[:]) {
		return nil, errors.New("hash verification failed - data corrupted")
	}

	salt := body[:saltLen]
	iv := body[saltLen : saltLen+aes.BlockSize]
	ciphertext := body[saltLen+aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a multiple of block size")
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	unpadded, err := removePKCS7Padding(plain)
	if err != nil {
		log.Warn().Err(err).Msg("PKCS7 unpadding failed, using raw data")
		return plain, nil
	}
	return unpadded, nil
}

func removePKCS7Padding(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding length: %d", n)
	}
	for i := len(data) - n; i < len(data); i++ {
		if data[i] != byte(n) {
			return nil, fmt.Errorf("invalid padding at position %d", i)
		}
	}
	return data[:len(data)-n], nil
}
