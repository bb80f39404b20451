package envelope

import (
	"bytes"
	"errors"
	"testing"

	"github.com/connax-utim/uhost-go/pkg/version"
)

var (
	key1 = bytes.Repeat([]byte{0x11}, 20)
	key2 = bytes.Repeat([]byte{0x22}, 20)
)

func TestSignVerify(t *testing.T) {
	messages := [][]byte{
		nil,
		[]byte("a"),
		[]byte("telemetry payload"),
		bytes.Repeat([]byte{0xFF}, 4096),
	}

	for _, s := range suites {
		t.Run(s.Name, func(t *testing.T) {
			for _, msg := range messages {
				mac, err := s.Sign(key1, msg)
				if err != nil {
					t.Fatalf("Sign failed: %v", err)
				}
				if len(mac) != s.MACSize {
					t.Errorf("mac size = %d, want %d", len(mac), s.MACSize)
				}
				if !s.Verify(key1, msg, mac) {
					t.Error("Verify with signing key = false")
				}
				if s.Verify(key2, msg, mac) {
					t.Error("Verify with a different key = true")
				}
			}
		})
	}
}

func TestSignDeterministic(t *testing.T) {
	a, _ := SuiteV1.Sign(key1, []byte("m"))
	b, _ := SuiteV1.Sign(key1, []byte("m"))
	if !bytes.Equal(a, b) {
		t.Error("Sign is not deterministic")
	}
}

func TestV1IsPlainHMACSHA1(t *testing.T) {
	// RFC 2202 test case 2.
	mac, err := SuiteV1.Sign([]byte("Jefe"), []byte("what do ya want for nothing?"))
	if err == nil {
		t.Fatalf("expected short-key error for a 4-byte key, got mac %x", mac)
	}

	// RFC 2202 test case 1: key = 0x0b * 20.
	key := bytes.Repeat([]byte{0x0b}, 20)
	mac, err = SuiteV1.Sign(key, []byte("Hi There"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	want := []byte{
		0xb6, 0x17, 0x31, 0x86, 0x55, 0x05, 0x72, 0x64, 0xe2, 0x8b,
		0xc0, 0xb6, 0xfb, 0x37, 0x8c, 0x8e, 0xf1, 0x46, 0xbe, 0x00,
	}
	if !bytes.Equal(mac, want) {
		t.Errorf("mac = %x, want %x", mac, want)
	}
}

func TestVerifyRejectsWrongLength(t *testing.T) {
	mac, _ := SuiteV1.Sign(key1, []byte("m"))
	if SuiteV1.Verify(key1, []byte("m"), mac[:19]) {
		t.Error("Verify accepted a truncated mac")
	}
	if SuiteV1.Verify(nil, []byte("m"), mac) {
		t.Error("Verify accepted a nil key")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	for _, s := range suites {
		t.Run(s.Name, func(t *testing.T) {
			for _, n := range []int{0, 1, 15, 16, 17, 300} {
				pt := bytes.Repeat([]byte{byte(n)}, n)
				ct, err := s.Encrypt(key1, pt)
				if err != nil {
					t.Fatalf("Encrypt failed: %v", err)
				}
				if ct[0] != s.EncMarker {
					t.Errorf("marker = 0x%02x, want 0x%02x", ct[0], s.EncMarker)
				}
				got, err := s.Decrypt(key1, ct)
				if err != nil {
					t.Fatalf("Decrypt failed: %v", err)
				}
				if !bytes.Equal(got, pt) {
					t.Errorf("len %d: round trip mismatch", n)
				}
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	ct, _ := SuiteV1.Encrypt(key1, []byte("secret command"))
	got, err := SuiteV1.Decrypt(key2, ct)
	if err == nil && bytes.Equal(got, []byte("secret command")) {
		t.Error("Decrypt with wrong key recovered plaintext")
	}
}

func TestNilKeyPassthrough(t *testing.T) {
	msg := []byte{0x01, 0x00, 0x01, 0xAA}

	ct, err := SuiteV1.Encrypt(nil, msg)
	if err != nil || !bytes.Equal(ct, msg) {
		t.Errorf("Encrypt(nil) = %x, %v", ct, err)
	}
	pt, err := SuiteV1.Decrypt(nil, msg)
	if err != nil || !bytes.Equal(pt, msg) {
		t.Errorf("Decrypt(nil) = %x, %v", pt, err)
	}
	sealed, err := SuiteV1.Seal(nil, msg)
	if err != nil || !bytes.Equal(sealed, msg) {
		t.Errorf("Seal(nil) = %x, %v", sealed, err)
	}
}

func TestSealOpen(t *testing.T) {
	payload := []byte{0x06, 0x00, 0x00}

	for _, s := range suites {
		t.Run(s.Name, func(t *testing.T) {
			frame, err := s.Seal(key1, payload)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			if !IsSecured(frame) {
				t.Fatal("sealed frame is not secured")
			}

			got, secured, err := s.Open(key1, frame)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !secured || !bytes.Equal(got, payload) {
				t.Errorf("Open = %x, secured=%v", got, secured)
			}
		})
	}
}

func TestOpenPlain(t *testing.T) {
	hello := []byte{0x01, 0x00, 0x02, 0xAB, 0xCD}
	got, secured, err := SuiteV1.Open(key1, hello)
	if err != nil || secured || !bytes.Equal(got, hello) {
		t.Errorf("Open(plain) = %x, %v, %v", got, secured, err)
	}
}

func TestOpenFailures(t *testing.T) {
	frame, _ := SuiteV1.Seal(key1, []byte{0x06, 0x00, 0x00})

	t.Run("no key", func(t *testing.T) {
		_, secured, err := SuiteV1.Open(nil, frame)
		if !secured || !errors.Is(err, ErrCrypto) || !errors.Is(err, ErrNoKey) {
			t.Errorf("err = %v, secured = %v", err, secured)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		_, _, err := SuiteV1.Open(key2, frame)
		if !errors.Is(err, ErrSignature) {
			t.Errorf("err = %v, want ErrSignature", err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := bytes.Clone(frame)
		tampered[5] ^= 0x01
		_, _, err := SuiteV1.Open(key1, tampered)
		if !errors.Is(err, ErrCrypto) {
			t.Errorf("err = %v, want ErrCrypto", err)
		}
	})

	t.Run("other suite", func(t *testing.T) {
		v2frame, _ := SuiteV2.Seal(key1, []byte{0x06, 0x00, 0x00})
		_, _, err := SuiteV1.Open(key1, v2frame)
		if !errors.Is(err, ErrCrypto) {
			t.Errorf("err = %v, want ErrCrypto", err)
		}
	})
}

func TestIsSecured(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{"empty", nil, false},
		{"plain hello", []byte{0x01, 0x00, 0x00}, false},
		{"v1 marker too short", append([]byte{0xA1}, make([]byte, 19)...), false},
		{"v1 marker with mac", append([]byte{0xA1}, make([]byte, 20)...), true},
		{"v2 marker needs 32", append([]byte{0xA2}, make([]byte, 20)...), false},
		{"v2 marker with mac", append([]byte{0xA2}, make([]byte, 32)...), true},
	}

	for _, tt := range tests {
		if got := IsSecured(tt.frame); got != tt.want {
			t.Errorf("%s: IsSecured = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestUnpadRejectsGarbage(t *testing.T) {
	block := bytes.Repeat([]byte{0x03}, 16)
	block[15] = 0x11
	if _, err := unpad(block, 16); !errors.Is(err, ErrCrypto) {
		t.Errorf("pad byte > block size accepted: %v", err)
	}
	block[15] = 0x02
	block[14] = 0x05
	if _, err := unpad(block, 16); !errors.Is(err, ErrCrypto) {
		t.Errorf("inconsistent padding accepted: %v", err)
	}
}

func TestForVersion(t *testing.T) {
	s, err := ForVersion(version.MustParse("1.0"))
	if err != nil || s != SuiteV1 {
		t.Errorf("1.0 -> %v, %v", s, err)
	}
	s, err = ForVersion(version.MustParse("2.3"))
	if err != nil || s != SuiteV2 {
		t.Errorf("2.3 -> %v, %v", s, err)
	}
	if _, err := ForVersion(version.MustParse("3.0")); err == nil {
		t.Error("3.0 should have no suite")
	}
}

func TestFixedIV(t *testing.T) {
	orig := randReader
	defer func() { randReader = orig }()
	randReader = bytes.NewReader(make([]byte, 64))

	a, _ := SuiteV1.Encrypt(key1, []byte("x"))
	randReader = bytes.NewReader(make([]byte, 64))
	b, _ := SuiteV1.Encrypt(key1, []byte("x"))
	if !bytes.Equal(a, b) {
		t.Error("identical IV and plaintext produced different ciphertext")
	}
}
