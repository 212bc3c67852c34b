package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-orz/guacgateway/internal/gwerr"
)

// Cipher names the symmetric algorithm a token was encrypted under. Only
// AES-256-CBC is implemented. The name is part of the Crypto's
// configuration; the token envelope itself carries only "iv" and "value".
type Cipher string

const CipherAES256CBC Cipher = "aes-256-cbc"

const keySize = 32 // AES-256
const blockSize = aes.BlockSize

// Crypto decrypts and validates connection tokens, and can re-encrypt
// settings for tooling symmetry (generating test tokens). It holds only the
// configured key and is safe for concurrent use.
type Crypto struct {
	key    []byte
	cipher Cipher
}

// New constructs a Crypto bound to a 32-byte key and the configured cipher
// name. cipherName must equal CipherAES256CBC; any other value is rejected
// since that's the only algorithm this gateway implements.
func New(key []byte, cipherName Cipher) (*Crypto, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("token: key must be %d bytes, got %d", keySize, len(key))
	}
	if cipherName != CipherAES256CBC {
		return nil, fmt.Errorf("token: unsupported cipher %q", cipherName)
	}
	return &Crypto{key: append([]byte(nil), key...), cipher: cipherName}, nil
}

// envelope is the outer, base64-transported wire form of a token.
type envelope struct {
	IV    string `json:"iv"`
	Value string `json:"value"`
}

// connectionPayload is the inner "connection" object of the decrypted JSON
// plaintext.
type connectionPayload struct {
	Type         ConnectionType    `json:"type"`
	Settings     map[string]string `json:"settings"`
	ConnectionID string            `json:"connection_id,omitempty"`
	Overrides    map[string]string `json:"guac_overrides,omitempty"`
}

// Decrypt decodes, decrypts, and validates tokenText, per the format in
// SPEC_FULL.md §6. Every failure is returned as a *gwerr.Error so the
// session layer can classify it without matching on text.
func (c *Crypto) Decrypt(tokenText string) (*ConnectionSettings, error) {
	outer, err := decodeBase64(tokenText)
	if err != nil || len(outer) <= 0 {
		return nil, gwerr.New(gwerr.KindMalformedToken, err)
	}

	env, err := parseEnvelope(outer)
	if err != nil {
		return nil, gwerr.New(gwerr.KindMalformedToken, err)
	}

	iv, err := decodeBase64(env.IV)
	if err != nil {
		return nil, gwerr.New(gwerr.KindMalformedToken, err)
	}
	if len(iv) != blockSize {
		return nil, gwerr.New(gwerr.KindInvalidIV, fmt.Errorf("token: iv is %d bytes, want %d", len(iv), blockSize))
	}

	ciphertext, err := decodeBase64(env.Value)
	if err != nil {
		return nil, gwerr.New(gwerr.KindMalformedToken, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, gwerr.New(gwerr.KindInvalidCiphertext, fmt.Errorf("token: ciphertext length %d is not a positive multiple of %d", len(ciphertext), blockSize))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, gwerr.New(gwerr.KindDecryptFailed, err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = unpadPKCS7(plaintext, blockSize)
	if err != nil {
		return nil, gwerr.New(gwerr.KindInvalidPadding, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return nil, gwerr.New(gwerr.KindMalformedPayload, err)
	}

	connectionRaw, ok := raw["connection"]
	if !ok {
		return nil, gwerr.New(gwerr.KindInvalidSettings, fmt.Errorf("token: payload missing \"connection\" object"))
	}
	var conn connectionPayload
	if err := strictUnmarshal(connectionRaw, &conn); err != nil {
		return nil, gwerr.New(gwerr.KindInvalidSettings, err)
	}
	if !conn.Type.valid() {
		return nil, gwerr.New(gwerr.KindInvalidSettings, fmt.Errorf("token: unknown connection type %q", conn.Type))
	}
	if conn.Settings == nil {
		return nil, gwerr.New(gwerr.KindInvalidSettings, fmt.Errorf("token: connection.settings is required"))
	}

	delete(raw, "connection")
	var extra map[string]any
	if len(raw) > 0 {
		extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var decoded any
			if err := json.Unmarshal(v, &decoded); err != nil {
				return nil, gwerr.New(gwerr.KindMalformedPayload, err)
			}
			extra[k] = decoded
		}
	}

	return &ConnectionSettings{
		Type:         conn.Type,
		Settings:     conn.Settings,
		ConnectionID: conn.ConnectionID,
		Overrides:    conn.Overrides,
		Extra:        extra,
	}, nil
}

// Encrypt produces a fresh token for settings, offered for tooling
// symmetry (e.g. generating tokens in tests or an admin CLI) rather than
// runtime use by the gateway itself.
func (c *Crypto) Encrypt(settings *ConnectionSettings) (string, error) {
	conn := connectionPayload{
		Type:         settings.Type,
		Settings:     settings.Settings,
		ConnectionID: settings.ConnectionID,
		Overrides:    settings.Overrides,
	}
	body := map[string]any{"connection": conn}
	for k, v := range settings.Extra {
		body[k] = v
	}
	plaintext, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	padded := padPKCS7(plaintext, blockSize)

	iv := make([]byte, blockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	env := envelope{
		IV:    base64.StdEncoding.EncodeToString(iv),
		Value: base64.StdEncoding.EncodeToString(ciphertext),
	}
	outer, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(outer), nil
}

// parseEnvelope validates that outer is a JSON object with exactly the two
// string-valued fields "iv" and "value" — no more, no fewer.
func parseEnvelope(outer []byte) (envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(outer, &raw); err != nil {
		return envelope{}, err
	}
	if len(raw) != 2 {
		return envelope{}, fmt.Errorf("token: envelope has %d fields, want exactly \"iv\" and \"value\"", len(raw))
	}
	var env envelope
	ivRaw, ok := raw["iv"]
	if !ok {
		return envelope{}, fmt.Errorf("token: envelope missing \"iv\"")
	}
	if err := json.Unmarshal(ivRaw, &env.IV); err != nil {
		return envelope{}, fmt.Errorf("token: \"iv\" is not a string: %w", err)
	}
	valueRaw, ok := raw["value"]
	if !ok {
		return envelope{}, fmt.Errorf("token: envelope missing \"value\"")
	}
	if err := json.Unmarshal(valueRaw, &env.Value); err != nil {
		return envelope{}, fmt.Errorf("token: \"value\" is not a string: %w", err)
	}
	return env, nil
}

// decodeBase64 accepts both the padded standard alphabet and the unpadded
// URL-safe alphabet, since browsers and tooling disagree on which to emit
// for URL-carried tokens.
func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// strictUnmarshal rejects unknown fields and trailing data. Decrypt uses it
// on the inner "connection" object, where a failure is KindInvalidSettings;
// the outer envelope is checked separately by parseEnvelope.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func padPKCS7(data []byte, size int) []byte {
	padLen := size - len(data)%size
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func unpadPKCS7(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("token: padded length %d is not a multiple of %d", len(data), size)
	}
	padLen := int(data[len(data)-1])
	if padLen < 1 || padLen > size || padLen > len(data) {
		return nil, fmt.Errorf("token: invalid PKCS#7 pad length %d", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("token: inconsistent PKCS#7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
