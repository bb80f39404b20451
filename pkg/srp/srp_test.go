package srp

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
)

var (
	testUser     = mustHex("0a0b0c0d0e0f101112131415")
	testPassword = func() []byte {
		p := make([]byte, 32)
		for i := range p {
			p[i] = byte(i)
		}
		return p
	}()
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// withRand replaces the randomness source for the duration of fn.
func withRand(t *testing.T, data []byte, fn func()) {
	t.Helper()
	orig := randReader
	randReader = bytes.NewReader(data)
	defer func() { randReader = orig }()
	fn()
}

func handshake(t *testing.T, password []byte) (*User, *Verifier, []byte) {
	t.Helper()

	salt, verifier, err := V1.CreateSaltedVerificationKey(testUser, testPassword)
	if err != nil {
		t.Fatalf("CreateSaltedVerificationKey failed: %v", err)
	}

	user, err := V1.NewUser(testUser, password)
	if err != nil {
		t.Fatalf("NewUser failed: %v", err)
	}

	svr, err := V1.NewVerifier(testUser, salt, verifier, user.PublicValue())
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	s, b := svr.Challenge()
	m, err := user.ProcessChallenge(s, b)
	if err != nil {
		t.Fatalf("ProcessChallenge failed: %v", err)
	}
	return user, svr, m
}

func TestRoundTrip(t *testing.T) {
	user, svr, m := handshake(t, testPassword)

	hamk := svr.VerifySession(m)
	if hamk == nil {
		t.Fatal("VerifySession returned nil for a valid proof")
	}
	if !user.VerifySession(hamk) {
		t.Fatal("user rejected the server proof")
	}

	serverKey, err := svr.SessionKey()
	if err != nil {
		t.Fatalf("server SessionKey failed: %v", err)
	}
	userKey, err := user.SessionKey()
	if err != nil {
		t.Fatalf("user SessionKey failed: %v", err)
	}
	if !bytes.Equal(serverKey, userKey) {
		t.Errorf("session keys differ:\nserver %x\nuser   %x", serverKey, userKey)
	}
	if len(serverKey) != 20 {
		t.Errorf("key size = %d, want 20", len(serverKey))
	}
}

func TestTamperedProof(t *testing.T) {
	_, svr, m := handshake(t, testPassword)

	for bit := 0; bit < len(m)*8; bit += 37 {
		tampered := bytes.Clone(m)
		tampered[bit/8] ^= 1 << (bit % 8)
		if hamk := svr.VerifySession(tampered); hamk != nil {
			t.Fatalf("bit %d flipped: VerifySession returned %x", bit, hamk)
		}
	}

	if svr.Authenticated() {
		t.Error("verifier authenticated after tampered proofs")
	}
	if _, err := svr.SessionKey(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("SessionKey error = %v, want ErrNotAuthenticated", err)
	}
}

func TestWrongPassword(t *testing.T) {
	wrong := bytes.Clone(testPassword)
	wrong[0] ^= 0xFF
	_, svr, m := handshake(t, wrong)

	if svr.VerifySession(m) != nil {
		t.Error("proof from a wrong password was accepted")
	}
}

func TestUserRejectsBadServerProof(t *testing.T) {
	user, svr, m := handshake(t, testPassword)
	hamk := bytes.Clone(svr.VerifySession(m))
	hamk[0] ^= 0x01
	if user.VerifySession(hamk) {
		t.Error("user accepted a tampered HAMK")
	}
	if _, err := user.SessionKey(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("SessionKey error = %v, want ErrNotAuthenticated", err)
	}
}

func TestKnownAnswer(t *testing.T) {
	// Vectors computed with an independent implementation of the same rules.
	var salt, verifier []byte
	withRand(t, []byte{0x00, 0x12, 0x34, 0x56}, func() {
		var err error
		salt, verifier, err = V1.CreateSaltedVerificationKey(testUser, testPassword)
		if err != nil {
			t.Fatalf("CreateSaltedVerificationKey failed: %v", err)
		}
	})
	if !bytes.Equal(salt, mustHex("123456")) {
		t.Fatalf("salt = %x, want 123456 (leading zero dropped)", salt)
	}
	if got := hex.EncodeToString(verifier[:8]); got != "75d151678f787561" {
		t.Errorf("verifier prefix = %s", got)
	}

	var user *User
	withRand(t, bytes.Repeat([]byte{0x01}, 32), func() {
		var err error
		if user, err = V1.NewUser(testUser, testPassword); err != nil {
			t.Fatalf("NewUser failed: %v", err)
		}
	})
	if got := hex.EncodeToString(user.PublicValue()[:8]); got != "01f9d75a9df8ac07" {
		t.Errorf("A prefix = %s", got)
	}

	var svr *Verifier
	withRand(t, bytes.Repeat([]byte{0x02}, 32), func() {
		var err error
		if svr, err = V1.NewVerifier(testUser, salt, verifier, user.PublicValue()); err != nil {
			t.Fatalf("NewVerifier failed: %v", err)
		}
	})
	s, b := svr.Challenge()
	if got := hex.EncodeToString(b[:8]); got != "4b8337678283914e" {
		t.Errorf("B prefix = %s", got)
	}

	m, err := user.ProcessChallenge(s, b)
	if err != nil {
		t.Fatalf("ProcessChallenge failed: %v", err)
	}
	if got := hex.EncodeToString(m); got != "4bfe88fee36519cdc26187aeb56a97620ae334bd" {
		t.Errorf("M = %s", got)
	}

	hamk := svr.VerifySession(m)
	if got := hex.EncodeToString(hamk); got != "657053aa86374a224624e8b008e02f37e0f07046" {
		t.Errorf("HAMK = %s", got)
	}

	key, _ := svr.SessionKey()
	if got := hex.EncodeToString(key); got != "70993a12b2687ac69501372990c3d819b252fa0d" {
		t.Errorf("K = %s", got)
	}
}

func TestMultiplier(t *testing.T) {
	if got := V1.k.Text(16); got != "7e4642ed709d2d08fd9dffbda12fec959e99a535" {
		t.Errorf("k = %s", got)
	}
}

func TestDegenerateA(t *testing.T) {
	salt, verifier, _ := V1.CreateSaltedVerificationKey(testUser, testPassword)

	for name, a := range map[string][]byte{
		"zero":  {0},
		"empty": nil,
		"N":     V1.N.Bytes(),
		"2N":    new(big.Int).Add(V1.N, V1.N).Bytes(),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := V1.NewVerifier(testUser, salt, verifier, a)
			if !errors.Is(err, ErrChallenge) {
				t.Errorf("NewVerifier error = %v, want ErrChallenge", err)
			}
		})
	}
}

func TestDegenerateB(t *testing.T) {
	user, err := V1.NewUser(testUser, testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := user.ProcessChallenge([]byte{1}, V1.N.Bytes()); !errors.Is(err, ErrChallenge) {
		t.Errorf("ProcessChallenge(B=N) error = %v, want ErrChallenge", err)
	}
	if _, err := user.ProcessChallenge([]byte{1}, nil); !errors.Is(err, ErrChallenge) {
		t.Errorf("ProcessChallenge(B=0) error = %v, want ErrChallenge", err)
	}
}

func TestEphemeralTopBit(t *testing.T) {
	withRand(t, make([]byte, 32), func() {
		user, err := V1.NewUser(testUser, testPassword)
		if err != nil {
			t.Fatal(err)
		}
		if user.a.BitLen() != 256 {
			t.Errorf("a bit length = %d, want 256", user.a.BitLen())
		}
	})
}

func TestSaltSkipsZero(t *testing.T) {
	withRand(t, []byte{0, 0, 0, 0, 0, 0, 0, 7}, func() {
		salt, _, err := V1.CreateSaltedVerificationKey(testUser, testPassword)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(salt, []byte{7}) {
			t.Errorf("salt = %x, want 07", salt)
		}
	})
}

func TestRandomFailure(t *testing.T) {
	withRand(t, nil, func() {
		if _, err := V1.NewUser(testUser, testPassword); err == nil {
			t.Error("NewUser succeeded without randomness")
		}
	})
}
