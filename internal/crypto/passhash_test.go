package crypto

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// cheap parameters keep the suite fast; production defaults are covered separately.
func testHasher() *Hasher {
	return NewHasher(Params{Memory: 1024, Time: 1, Threads: 1, KeyLen: 32, SaltLen: 16})
}

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
}

func TestHash_RandomSaltBothVerify(t *testing.T) {
	t.Parallel()
	h := testHasher()

	h1, err := h.Hash("TestPassword123!")
	require.NoError(t, err)
	h2, err := h.Hash("TestPassword123!")
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
	require.NotEqual(t, "TestPassword123!", h1)
	require.True(t, strings.HasPrefix(h1, "$argon2id$v=19$m=1024,t=1,p=1$"), h1)

	for _, enc := range []string{h1, h2} {
		ok, err := h.Verify("TestPassword123!", enc)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestVerify_WrongPasswordIsNotAnError(t *testing.T) {
	t.Parallel()
	h := testHasher()

	enc, err := h.Hash("TestPassword123!")
	require.NoError(t, err)

	ok, err := h.Verify("WrongPassword123!", enc)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = h.Verify("", enc)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_UsesParamsFromEncoding(t *testing.T) {
	t.Parallel()

	enc, err := testHasher().Hash("Passw0rd1")
	require.NoError(t, err)

	// a hasher configured differently still verifies older hashes
	other := NewHasher(Params{Memory: 2048, Time: 2, Threads: 2})
	ok, err := other.Verify("Passw0rd1", enc)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerify_MalformedHash(t *testing.T) {
	t.Parallel()
	h := testHasher()

	bad := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=0$c2FsdHNhbHRzYWx0$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0$",
	}
	for _, enc := range bad {
		ok, err := h.Verify("Passw0rd1", enc)
		require.False(t, ok, enc)
		require.ErrorIs(t, err, ErrMalformedHash, enc)
	}
}

func TestDefaultParams(t *testing.T) {
	t.Parallel()

	p := NewHasher(Params{}).Params()
	require.Equal(t, uint32(64*1024), p.Memory)
	require.Equal(t, uint32(3), p.Time)
	require.Equal(t, uint8(4), p.Threads)
	require.Equal(t, uint32(32), p.KeyLen)
}

func TestCheckStrength(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"Test1234":        true,
		"MySecurePass123": true,
		"Passw0rd1":       true,
		"test1234":        false, // no uppercase
		"TEST1234":        false, // no lowercase
		"TestPass":        false, // no digit
		"Test1":           false, // too short
		"":                false,
	}
	for pw, want := range cases {
		if got := CheckStrength(pw); got != want {
			t.Fatalf("CheckStrength(%q)=%v, want %v", pw, got, want)
		}
	}
}

func TestPool_BoundsAndCancellation(t *testing.T) {
	t.Parallel()

	p := NewPool(testHasher(), 2)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc, err := p.Hash(context.Background(), "Passw0rd1")
			if err != nil {
				errCh <- err
				return
			}
			ok, err := p.Verify(context.Background(), "Passw0rd1", enc)
			if err != nil || !ok {
				errCh <- errors.New("verify failed")
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("pool op: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Hash(ctx, "Passw0rd1")
	require.ErrorIs(t, err, context.Canceled)
}
