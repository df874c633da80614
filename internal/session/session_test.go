package session

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsRefresh_StrictlyAfterThreshold(t *testing.T) {
	now := time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC)
	threshold := 25 * time.Minute

	for age := 0; age <= 60; age++ {
		s := DeviceSession{LastTokenUpdateAt: now.Add(-time.Duration(age) * time.Minute)}
		assert.Equal(t, age > 25, s.NeedsRefresh(now, threshold), "age=%dm", age)
	}

	s := DeviceSession{LastTokenUpdateAt: now.Add(-threshold - time.Millisecond)}
	assert.True(t, s.NeedsRefresh(now, threshold))
}

func TestDeleteScope_Validate(t *testing.T) {
	assert.ErrorIs(t, DeleteScope{}.Validate(), ErrUnscopedDrop)
	assert.ErrorIs(t, DeleteScope{Type: TypeDevice}.Validate(), ErrUnscopedDrop)
	assert.NoError(t, DeleteScope{Fingerprint: "fp"}.Validate())
	assert.NoError(t, DeleteScope{Type: TypeBackground}.Validate())
}

func TestFilterRequired(t *testing.T) {
	in := []Cookie{
		{Name: "PHPSESSID", Value: "old"},
		{Name: "tracking", Value: "x"},
		{Name: "amhrdrauth", Value: "auth"},
		{Name: "PHPSESSID", Value: "new"},
		{Name: "AWSALB", Value: ""},
	}
	assert.Equal(t, []Cookie{
		{Name: "PHPSESSID", Value: "new"},
		{Name: "amhrdrauth", Value: "auth"},
	}, FilterRequired(in))
}

func TestMerge_UpdatesWin(t *testing.T) {
	base := []Cookie{{Name: "AWSALB", Value: "a1"}, {Name: "PHPSESSID", Value: "p1"}}
	upd := []Cookie{{Name: "AWSALB", Value: "a2"}, {Name: "junk", Value: "j"}}
	assert.Equal(t, []Cookie{{Name: "AWSALB", Value: "a2"}, {Name: "PHPSESSID", Value: "p1"}}, Merge(base, upd))
}

func TestFromResponse(t *testing.T) {
	res := &http.Response{Header: http.Header{}}
	res.Header.Add("Set-Cookie", "AWSALB=abc; Path=/")
	res.Header.Add("Set-Cookie", "AWSALBCORS=def; Path=/; SameSite=None; Secure")
	res.Header.Add("Set-Cookie", "PHPSESSID=deleted; Max-Age=0")
	res.Header.Add("Set-Cookie", "other=1")

	assert.Equal(t, []Cookie{{Name: "AWSALB", Value: "abc"}, {Name: "AWSALBCORS", Value: "def"}}, FromResponse(res))
}

func TestHeaderRoundTrip(t *testing.T) {
	cs := []Cookie{{Name: "AWSALB", Value: "a"}, {Name: "amhrdrauth", Value: "b=c"}}
	h := Header(cs)
	assert.Equal(t, "AWSALB=a; amhrdrauth=b=c", h)
	assert.Equal(t, cs, ParseHeader(h))
	assert.Empty(t, ParseHeader(" ; =x; "))
}

func TestSealer(t *testing.T) {
	s := NewSealer(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32))

	sealed, err := s.SealToken("bearer-123")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "bearer-123")
	tok, err := s.OpenToken(sealed)
	require.NoError(t, err)
	assert.Equal(t, "bearer-123", tok)

	cs := []Cookie{{Name: "PHPSESSID", Value: "p"}}
	sc, err := s.SealCookies(cs)
	require.NoError(t, err)
	got, err := s.OpenCookies(sc)
	require.NoError(t, err)
	assert.Equal(t, cs, got)

	empty, err := s.SealCookies(nil)
	require.NoError(t, err)
	assert.Equal(t, "", empty)
	none, err := s.OpenCookies("")
	require.NoError(t, err)
	assert.Nil(t, none)

	other := NewSealer(bytes.Repeat([]byte{3}, 32), bytes.Repeat([]byte{2}, 32))
	_, err = other.OpenToken(sealed)
	assert.Error(t, err)
}
