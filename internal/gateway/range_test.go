package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   *RangeSpec
	}{
		{name: "empty", header: "", want: nil},
		{name: "closed", header: "bytes=0-9", want: &RangeSpec{Start: 0, End: 9}},
		{name: "open end", header: "bytes=5-", want: &RangeSpec{Start: 5, OpenEnd: true}},
		{name: "suffix", header: "bytes=-3", want: &RangeSpec{Suffix: true, SuffixLength: 3}},
		{name: "case insensitive unit", header: "Bytes=1-2", want: &RangeSpec{Start: 1, End: 2}},
		{name: "whitespace", header: " bytes= 1 - 2 ", want: &RangeSpec{Start: 1, End: 2}},
		{name: "wrong unit", header: "items=0-1", want: nil},
		{name: "multi range", header: "bytes=0-1,4-5", want: nil},
		{name: "non numeric", header: "bytes=a-b", want: nil},
		{name: "negative", header: "bytes=--1", want: nil},
		{name: "no dash", header: "bytes=12", want: nil},
		{name: "bare dash", header: "bytes=-", want: nil},
		{name: "empty spec", header: "bytes=", want: nil},
		{name: "overflow", header: "bytes=99999999999999999999-", want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseRange(tc.header))
		})
	}
}

func TestRespondWholeContent(t *testing.T) {
	src := strings.NewReader("hello world")

	for _, header := range []string{"", "bytes=0-10", "bytes=0-", "bytes=0-100", "bytes=-11", "bytes=-50", "bytes=0-1,3-4", "garbage"} {
		desc, body, err := Respond(11, ParseRange(header), src, "text/plain")
		require.NoError(t, err, header)
		assert.Equal(t, http.StatusOK, desc.Status, header)
		assert.Equal(t, "11", desc.Header.Get("Content-Length"), header)
		assert.Empty(t, desc.Header.Get("Content-Range"), header)
		assertCommonHeaders(t, desc.Header, "text/plain")
		assert.Equal(t, "hello world", readAll(t, body), header)
	}
}

func TestRespondPartialContent(t *testing.T) {
	src := strings.NewReader("0123456789")

	cases := []struct {
		header string
		body   string
		rng    string
	}{
		{header: "bytes=0-5", body: "012345", rng: "bytes 0-5/10"},
		{header: "bytes=3-3", body: "3", rng: "bytes 3-3/10"},
		{header: "bytes=7-", body: "789", rng: "bytes 7-9/10"},
		{header: "bytes=-2", body: "89", rng: "bytes 8-9/10"},
		{header: "bytes=4-400", body: "456789", rng: "bytes 4-9/10"},
	}
	for _, tc := range cases {
		desc, body, err := Respond(10, ParseRange(tc.header), src, "application/octet-stream")
		require.NoError(t, err, tc.header)
		assert.Equal(t, http.StatusPartialContent, desc.Status, tc.header)
		assert.Equal(t, tc.rng, desc.Header.Get("Content-Range"), tc.header)
		assert.Equal(t, int64(len(tc.body)), desc.Length, tc.header)
		assertCommonHeaders(t, desc.Header, "application/octet-stream")
		assert.Equal(t, tc.body, readAll(t, body), tc.header)
	}
}

func TestRespondHalfRangeLength(t *testing.T) {
	const size = 100
	src := strings.NewReader(strings.Repeat("a", size))

	desc, _, err := Respond(size, ParseRange("bytes=0-50"), src, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, desc.Status)
	assert.Equal(t, "51", desc.Header.Get("Content-Length"))
}

func TestRespondUnsatisfiable(t *testing.T) {
	src := strings.NewReader("0123456789")

	for _, header := range []string{"bytes=10-", "bytes=10-20", "bytes=50-60", "bytes=5-2", "bytes=-0"} {
		desc, body, err := Respond(10, ParseRange(header), src, "text/plain")
		require.Error(t, err, header)
		assert.Nil(t, desc)
		assert.Nil(t, body)
		assert.True(t, errors.Is(err, ErrRangeUnsatisfiable), header)

		var rangeErr *RangeError
		require.True(t, errors.As(err, &rangeErr), header)
		assert.Equal(t, int64(10), rangeErr.Size)
	}
}

func TestRespondEmptyArtifact(t *testing.T) {
	src := strings.NewReader("")

	desc, body, err := Respond(0, nil, src, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, desc.Status)
	assert.Equal(t, "0", desc.Header.Get("Content-Length"))
	assert.Equal(t, "", readAll(t, body))

	_, _, err = Respond(0, ParseRange("bytes=0-"), src, "text/plain")
	assert.ErrorIs(t, err, ErrRangeUnsatisfiable)
}

func assertCommonHeaders(t *testing.T, header http.Header, contentType string) {
	t.Helper()
	assert.Equal(t, contentType, header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=31557600, immutable", header.Get("Cache-Control"))
	assert.Equal(t, "bytes", header.Get("Accept-Ranges"))
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}
