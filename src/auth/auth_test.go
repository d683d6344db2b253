package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

func TestHashRoundTrip(t *testing.T) {
	hp := HashPassword("correct horse battery staple")

	parsed, err := ParsePasswordString(hp.String())
	require.Nil(t, err)
	assert.Equal(t, hp, parsed)

	ok, err := CheckPassword("correct horse battery staple", parsed)
	require.Nil(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword("Tr0ub4dor&3", parsed)
	require.Nil(t, err)
	assert.False(t, ok)
}

func TestLegacyMD5(t *testing.T) {
	// md5("password")
	stored := "5f4dcc3b5aa765d61d8327deb882cf99"

	ok, upgraded, err := Verify("password", stored)
	require.Nil(t, err)
	assert.True(t, ok)
	require.NotNil(t, upgraded)
	assert.Equal(t, Argon2id, upgraded.Algorithm)

	ok, upgraded, err = Verify("hunter2", stored)
	require.Nil(t, err)
	assert.False(t, ok)
	assert.Nil(t, upgraded)
}

func TestPBKDF2(t *testing.T) {
	key := pbkdf2.Key([]byte("hunter2"), []byte("saltysalt"), 1000, 32, sha256.New)
	stored := "pbkdf2_sha256$1000$saltysalt$" + base64.StdEncoding.EncodeToString(key)

	ok, upgraded, err := Verify("hunter2", stored)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.NotNil(t, upgraded)
}

func TestVerifyCurrent(t *testing.T) {
	ok, upgraded, err := Verify("pw", HashPassword("pw").String())
	require.Nil(t, err)
	assert.True(t, ok)
	assert.Nil(t, upgraded)
}

func TestBadStrings(t *testing.T) {
	_, err := ParsePasswordString("nope")
	assert.NotNil(t, err)

	_, err = ParseArgon2idConfig("t=1,m=2")
	assert.NotNil(t, err)

	_, err = CheckPassword("pw", HashedPassword{Algorithm: "rot13"})
	assert.NotNil(t, err)
}
