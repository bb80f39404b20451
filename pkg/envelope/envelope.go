// Package envelope implements the signing and encryption wrapper applied to
// Utim command payloads.
//
// A secured frame is
//
//	sign marker (1) || body || mac
//
// where body is either the plain command or, when encrypted,
//
//	enc marker (1) || iv (16) || AES-CBC(PKCS#7 padded command)
//
// Outbound payloads are encrypted then signed. Inbound frames are verified
// then decrypted. The algorithms are fixed per Suite; the suite is selected
// by protocol major version, never negotiated per message.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/connax-utim/uhost-go/pkg/version"
)

// Envelope errors.
var (
	// ErrCrypto is the root of every envelope failure.
	ErrCrypto = errors.New("envelope: crypto failure")

	// ErrSignature indicates a MAC mismatch.
	ErrSignature = errors.New("signature mismatch")

	// ErrNoKey indicates a secured frame for a device without a session key.
	ErrNoKey = errors.New("no session key")
)

const ivSize = aes.BlockSize

// randReader is the IV source. Tests replace it for fixed output.
var randReader io.Reader = rand.Reader

// Suite is a fixed combination of MAC and cipher.
type Suite struct {
	// Name is a short identifier for logs.
	Name string

	// SignMarker is the first byte of a signed frame.
	SignMarker byte

	// EncMarker is the first byte of an encrypted body.
	EncMarker byte

	// MACSize is the size of the trailing MAC.
	MACSize int

	newHash func() hash.Hash
	keys    func(sessionKey []byte) (macKey, encKey []byte, err error)
}

// SuiteV1 is HMAC-SHA1 with AES-128-CBC keyed by the first 16 bytes of the
// session key. It is what deployed firmware speaks.
var SuiteV1 = &Suite{
	Name:       "v1-hmac-sha1-aes128",
	SignMarker: 0xA1,
	EncMarker:  0xB1,
	MACSize:    sha1.Size,
	newHash:    sha1.New,
	keys: func(k []byte) ([]byte, []byte, error) {
		if len(k) < 16 {
			return nil, nil, fmt.Errorf("%w: session key of %d bytes is too short", ErrCrypto, len(k))
		}
		return k, k[:16], nil
	},
}

// SuiteV2 is HMAC-SHA256 with AES-256-CBC, both keys derived from the session
// key with HKDF-SHA256.
var SuiteV2 = &Suite{
	Name:       "v2-hmac-sha256-aes256",
	SignMarker: 0xA2,
	EncMarker:  0xB2,
	MACSize:    sha256.Size,
	newHash:    sha256.New,
	keys: func(k []byte) ([]byte, []byte, error) {
		if len(k) == 0 {
			return nil, nil, fmt.Errorf("%w: empty session key", ErrCrypto)
		}
		mac, err := deriveKey(k, "uhost/v2/mac")
		if err != nil {
			return nil, nil, err
		}
		enc, err := deriveKey(k, "uhost/v2/enc")
		if err != nil {
			return nil, nil, err
		}
		return mac, enc, nil
	},
}

var suites = []*Suite{SuiteV1, SuiteV2}

func deriveKey(secret []byte, info string) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("%w: hkdf: %v", ErrCrypto, err)
	}
	return out, nil
}

// ForVersion returns the suite for a protocol version.
func ForVersion(v version.ProtocolVersion) (*Suite, error) {
	switch v.Major {
	case 1:
		return SuiteV1, nil
	case 2:
		return SuiteV2, nil
	default:
		return nil, fmt.Errorf("no envelope suite for protocol %s", v)
	}
}

// IsSecured reports whether frame carries a known sign marker and is long
// enough to hold that suite's MAC.
func IsSecured(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	for _, s := range suites {
		if frame[0] == s.SignMarker {
			return len(frame) >= 1+s.MACSize
		}
	}
	return false
}

// Sign returns the MAC of message under key.
func (s *Suite) Sign(key, message []byte) ([]byte, error) {
	macKey, _, err := s.keys(key)
	if err != nil {
		return nil, err
	}
	m := hmac.New(s.newHash, macKey)
	m.Write(message)
	return m.Sum(nil), nil
}

// Verify reports whether mac authenticates message under key. It never
// returns an error; any failure is a negative result.
func (s *Suite) Verify(key, message, mac []byte) bool {
	if len(mac) != s.MACSize {
		return false
	}
	want, err := s.Sign(key, message)
	if err != nil {
		return false
	}
	return hmac.Equal(want, mac)
}

// Encrypt encrypts plaintext. A nil key returns plaintext unchanged.
func (s *Suite) Encrypt(key, plaintext []byte) ([]byte, error) {
	if key == nil {
		return plaintext, nil
	}
	_, encKey, err := s.keys(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, 1+ivSize+len(padded))
	out[0] = s.EncMarker
	iv := out[1 : 1+ivSize]
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrCrypto, err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[1+ivSize:], padded)
	return out, nil
}

// Decrypt reverses Encrypt. A nil key returns body unchanged.
func (s *Suite) Decrypt(key, body []byte) ([]byte, error) {
	if key == nil {
		return body, nil
	}
	if len(body) < 1+ivSize+aes.BlockSize || body[0] != s.EncMarker {
		return nil, fmt.Errorf("%w: not a %s ciphertext", ErrCrypto, s.Name)
	}
	ct := body[1+ivSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not block aligned", ErrCrypto)
	}

	_, encKey, err := s.keys(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, body[1:1+ivSize]).CryptBlocks(pt, ct)
	return unpad(pt, aes.BlockSize)
}

// Seal encrypts then signs payload. A nil key returns payload unchanged.
func (s *Suite) Seal(key, payload []byte) ([]byte, error) {
	if key == nil {
		return payload, nil
	}
	body, err := s.Encrypt(key, payload)
	if err != nil {
		return nil, err
	}
	mac, err := s.Sign(key, body)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 1+len(body)+len(mac))
	frame = append(frame, s.SignMarker)
	frame = append(frame, body...)
	return append(frame, mac...), nil
}

// Open verifies and decrypts a frame. Frames that are not secured are
// returned unchanged with secured set to false. A secured frame requires a
// key and this suite's marker.
func (s *Suite) Open(key, frame []byte) (payload []byte, secured bool, err error) {
	if !IsSecured(frame) {
		return frame, false, nil
	}
	if key == nil {
		return nil, true, fmt.Errorf("%w: %w", ErrCrypto, ErrNoKey)
	}
	if frame[0] != s.SignMarker {
		return nil, true, fmt.Errorf("%w: frame marker 0x%02x, want 0x%02x", ErrCrypto, frame[0], s.SignMarker)
	}

	body := frame[1 : len(frame)-s.MACSize]
	mac := frame[len(frame)-s.MACSize:]
	if !s.Verify(key, body, mac) {
		return nil, true, fmt.Errorf("%w: %w", ErrCrypto, ErrSignature)
	}

	payload, err = s.Decrypt(key, body)
	if err != nil {
		return nil, true, err
	}
	return payload, true, nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrCrypto)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrCrypto)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrCrypto)
		}
	}
	return b[:len(b)-n], nil
}
