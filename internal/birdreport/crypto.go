package birdreport

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // protocol-mandated digest, not used for security
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CKRainbow/commonBird/internal/errors"
)

// Fixed cipher parameters shared with the platform's web frontend. The
// payload protection is obfuscation of the wire format, not secrecy, which is
// why the key ships in the client.
const (
	cipherKey = "C8EB5514BDB8D7F5"
	cipherIV  = "A6IDV7WNUTEXSGPQ"
)

// canonicalJSON serializes request parameters into the exact byte form the
// signature covers. Map keys are sorted by encoding/json; HTML escaping must
// stay off so multibyte text matches what the frontend signs.
func canonicalJSON(params map[string]string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(params); err != nil {
		return "", errors.New(err).
			Category(errors.CategoryCrypto).
			Context("operation", "canonical_json").
			Build()
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// signPayload computes the request signature over the canonical payload, the
// request id and the millisecond timestamp, in that concatenation order.
func signPayload(formatted, requestID, timestamp string) string {
	sum := md5.Sum([]byte(formatted + requestID + timestamp)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// encryptPayload AES-CBC encrypts the canonical payload with PKCS#7 padding
// and returns it base64 encoded.
func encryptPayload(plaintext string) (string, error) {
	block, err := aes.NewCipher([]byte(cipherKey))
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryCrypto).
			Context("operation", "encrypt").
			Build()
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(cipherIV)).CryptBlocks(encrypted, padded)

	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// decryptPayload reverses encryptPayload on a base64 response body.
func decryptPayload(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCrypto).
			Context("operation", "decrypt_base64").
			Build()
	}

	block, err := aes.NewCipher([]byte(cipherKey))
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCrypto).
			Context("operation", "decrypt").
			Build()
	}

	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, errors.Newf("ciphertext length %d not a block multiple", len(raw)).
			Category(errors.CategoryCrypto).
			Context("operation", "decrypt").
			Build()
	}

	plaintext := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, []byte(cipherIV)).CryptBlocks(plaintext, raw)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	return unpadded, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.Newf("empty plaintext").
			Category(errors.CategoryCrypto).
			Context("operation", "unpad").
			Build()
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, errors.Newf("invalid padding length %d", padding).
			Category(errors.CategoryCrypto).
			Context("operation", "unpad").
			Build()
	}
	return data[:len(data)-padding], nil
}

// EncryptedEnvelope builds a {code, data} response body whose data field
// carries the encrypted payload, mirroring the platform's search responses.
// Intended for tests and tooling that fake the upstream.
func EncryptedEnvelope(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryCrypto).
			Context("operation", "encrypted_envelope").
			Build()
	}
	ciphertext, err := encryptPayload(string(raw))
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]any{"code": 200, "data": ciphertext})
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryCrypto).
			Context("operation", "encrypted_envelope").
			Build()
	}
	return string(body), nil
}

// requestSignature carries everything a signed request needs on the wire.
type requestSignature struct {
	RequestID  string
	Timestamp  string
	Sign       string
	Ciphertext string
}

// signRequest produces the signature headers and encrypted body for one
// request. Each call draws a fresh request id and timestamp; retries of the
// same logical call reuse the returned value so the signature stays valid.
func signRequest(params map[string]string, now time.Time) (*requestSignature, error) {
	formatted, err := canonicalJSON(params)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)

	ciphertext, err := encryptPayload(formatted)
	if err != nil {
		return nil, err
	}

	return &requestSignature{
		RequestID:  requestID,
		Timestamp:  timestamp,
		Sign:       signPayload(formatted, requestID, timestamp),
		Ciphertext: ciphertext,
	}, nil
}
