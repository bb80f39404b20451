// Package srp implements SRP-6a as spoken by Utim firmware.
//
// The parameter set is fixed and versioned. Changing any of the group, hash
// or encoding rules breaks every deployed device, so a new set must come with
// a new protocol major version.
//
// All integers enter hashes in minimal big-endian form, without RFC 5054
// padding. The salt is treated as an integer too, so leading zero bytes are
// dropped before use and before it is sent to the device.
package srp

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/big"
)

// SRP errors.
var (
	// ErrChallenge indicates a degenerate exchange value.
	ErrChallenge = errors.New("srp: degenerate challenge")

	// ErrNotAuthenticated is returned when a session key is requested before
	// the peer proof was verified.
	ErrNotAuthenticated = errors.New("srp: not authenticated")
)

// randReader is the randomness source. Tests replace it for known answers.
var randReader io.Reader = rand.Reader

// Params is a fixed SRP parameter set.
type Params struct {
	// Name identifies the set in logs.
	Name string

	N *big.Int
	G *big.Int

	// SaltSize is the number of random bytes drawn for a salt.
	SaltSize int

	// EphemeralSize is the size of the private ephemeral values.
	EphemeralSize int

	newHash func() hash.Hash
	k       *big.Int
}

// V1 is the parameter set of protocol major version 1: the RFC 5054 2048-bit
// group with SHA-1.
var V1 = newParams("v1-rfc5054-2048-sha1", rfc5054N2048, 2, sha1.New)

const rfc5054N2048 = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050" +
	"A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
	"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8" +
	"55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B" +
	"CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748" +
	"544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6" +
	"AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6" +
	"94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

func newParams(name, nHex string, g int64, h func() hash.Hash) *Params {
	n, ok := new(big.Int).SetString(nHex, 16)
	if !ok {
		panic("srp: invalid group prime")
	}
	p := &Params{
		Name:          name,
		N:             n,
		G:             big.NewInt(g),
		SaltSize:      4,
		EphemeralSize: 32,
		newHash:       h,
	}
	p.k = p.hashInt(p.N, p.G)
	return p
}

// hashInt hashes the minimal encodings of its arguments and returns the
// digest as an integer. Arguments are *big.Int or []byte.
func (p *Params) hashInt(parts ...any) *big.Int {
	return new(big.Int).SetBytes(p.hash(parts...))
}

func (p *Params) hash(parts ...any) []byte {
	h := p.newHash()
	for _, part := range parts {
		switch v := part.(type) {
		case *big.Int:
			h.Write(v.Bytes())
		case []byte:
			h.Write(v)
		default:
			panic(fmt.Sprintf("srp: cannot hash %T", part))
		}
	}
	return h.Sum(nil)
}

// randomInt draws n bytes as a big-endian integer.
func randomInt(n int) (*big.Int, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(randReader, buf); err != nil {
		return nil, fmt.Errorf("srp: random: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// ephemeral draws a private ephemeral value with its top bit set.
func (p *Params) ephemeral() (*big.Int, error) {
	r, err := randomInt(p.EphemeralSize)
	if err != nil {
		return nil, err
	}
	return r.SetBit(r, p.EphemeralSize*8-1, 1), nil
}

// x computes H(s || H(I || ":" || P)). The inner digest is reduced to its
// minimal integer form.
func (p *Params) x(salt, username, password []byte) *big.Int {
	inner := p.hashInt(username, []byte(":"), password)
	return p.hashInt(minimal(salt), inner)
}

// proof computes M = H(H(N) xor H(g) || H(I) || s || A || B || K).
func (p *Params) proof(username []byte, s, a, b *big.Int, key []byte) []byte {
	hn := p.hash(p.N)
	hg := p.hash(p.G)
	for i := range hn {
		hn[i] ^= hg[i]
	}
	return p.hash(hn, p.hash(username), s, a, b, key)
}

// minimal strips leading zero bytes.
func minimal(b []byte) []byte {
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	return b
}

// CreateSaltedVerificationKey draws a random salt and derives the verifier
// v = g^x mod N for username and password. The returned salt is already in
// minimal form.
func (p *Params) CreateSaltedVerificationKey(username, password []byte) (salt, verifier []byte, err error) {
	var s *big.Int
	for s == nil || s.Sign() == 0 {
		if s, err = randomInt(p.SaltSize); err != nil {
			return nil, nil, err
		}
	}
	salt = s.Bytes()
	v := new(big.Int).Exp(p.G, p.x(salt, username, password), p.N)
	return salt, v.Bytes(), nil
}

// Verifier is the server side of one SRP exchange.
type Verifier struct {
	params   *Params
	username []byte
	s        *big.Int
	a        *big.Int
	b        *big.Int

	m    []byte
	hamk []byte
	key  []byte

	authenticated bool
}

// NewVerifier starts an exchange for a client public value A. It fails with
// ErrChallenge when A is zero modulo N or when the server public value comes
// out as zero.
func (p *Params) NewVerifier(username, salt, verifier, clientA []byte) (*Verifier, error) {
	a := new(big.Int).SetBytes(clientA)
	if new(big.Int).Mod(a, p.N).Sign() == 0 {
		return nil, fmt.Errorf("%w: A mod N is zero", ErrChallenge)
	}

	priv, err := p.ephemeral()
	if err != nil {
		return nil, err
	}

	v := new(big.Int).SetBytes(verifier)

	// B = (k*v + g^b) mod N
	b := new(big.Int).Mul(p.k, v)
	b.Add(b, new(big.Int).Exp(p.G, priv, p.N))
	b.Mod(b, p.N)
	if b.Sign() == 0 {
		return nil, fmt.Errorf("%w: B is zero", ErrChallenge)
	}

	u := p.hashInt(a, b)

	// S = (A * v^u)^b mod N
	sv := new(big.Int).Exp(v, u, p.N)
	sv.Mul(sv, a)
	sv.Exp(sv, priv, p.N)
	key := p.hash(sv)

	s := new(big.Int).SetBytes(salt)
	m := p.proof(username, s, a, b, key)

	return &Verifier{
		params:   p,
		username: username,
		s:        s,
		a:        a,
		b:        b,
		m:        m,
		hamk:     p.hash(a, m, key),
		key:      key,
	}, nil
}

// Challenge returns the salt and server public value B for the TRY reply.
func (v *Verifier) Challenge() (salt, b []byte) {
	return v.s.Bytes(), v.b.Bytes()
}

// A returns the client public value this exchange was started with.
func (v *Verifier) A() []byte {
	return v.a.Bytes()
}

// VerifySession checks the client proof M. It returns the server proof HAMK
// on success and nil on mismatch.
func (v *Verifier) VerifySession(clientM []byte) []byte {
	if subtle.ConstantTimeCompare(clientM, v.m) != 1 {
		return nil
	}
	v.authenticated = true
	return v.hamk
}

// Authenticated reports whether VerifySession succeeded.
func (v *Verifier) Authenticated() bool {
	return v.authenticated
}

// SessionKey returns the shared key K once the client proof was verified.
func (v *Verifier) SessionKey() ([]byte, error) {
	if !v.authenticated {
		return nil, ErrNotAuthenticated
	}
	return v.key, nil
}

// User is the device side of one SRP exchange.
type User struct {
	params   *Params
	username []byte
	password []byte
	a        *big.Int
	pubA     *big.Int

	hamk []byte
	key  []byte

	authenticated bool
}

// NewUser draws the private ephemeral value for a device.
func (p *Params) NewUser(username, password []byte) (*User, error) {
	a, err := p.ephemeral()
	if err != nil {
		return nil, err
	}
	return &User{
		params:   p,
		username: username,
		password: password,
		a:        a,
		pubA:     new(big.Int).Exp(p.G, a, p.N),
	}, nil
}

// PublicValue returns A for the HELLO command.
func (u *User) PublicValue() []byte {
	return u.pubA.Bytes()
}

// ProcessChallenge computes the client proof M from a TRY reply. It fails
// with ErrChallenge when B is zero modulo N or the scrambler u is zero.
func (u *User) ProcessChallenge(salt, serverB []byte) ([]byte, error) {
	p := u.params
	b := new(big.Int).SetBytes(serverB)
	if new(big.Int).Mod(b, p.N).Sign() == 0 {
		return nil, fmt.Errorf("%w: B mod N is zero", ErrChallenge)
	}

	scr := p.hashInt(u.pubA, b)
	if scr.Sign() == 0 {
		return nil, fmt.Errorf("%w: u is zero", ErrChallenge)
	}

	x := p.x(salt, u.username, u.password)
	v := new(big.Int).Exp(p.G, x, p.N)

	// S = (B - k*v)^(a + u*x) mod N
	base := new(big.Int).Mul(p.k, v)
	base.Sub(b, base)
	base.Mod(base, p.N)
	exp := new(big.Int).Mul(scr, x)
	exp.Add(exp, u.a)
	s := new(big.Int).Exp(base, exp, p.N)

	u.key = p.hash(s)
	m := p.proof(u.username, new(big.Int).SetBytes(salt), u.pubA, b, u.key)
	u.hamk = p.hash(u.pubA, m, u.key)
	return m, nil
}

// VerifySession checks the server proof HAMK from an INIT reply.
func (u *User) VerifySession(hamk []byte) bool {
	if u.hamk == nil || subtle.ConstantTimeCompare(hamk, u.hamk) != 1 {
		return false
	}
	u.authenticated = true
	return true
}

// SessionKey returns the shared key K once the server proof was verified.
func (u *User) SessionKey() ([]byte, error) {
	if !u.authenticated {
		return nil, ErrNotAuthenticated
	}
	return u.key, nil
}
