package catalog_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/catalog"
	"github.com/hbomb79/Cadence/internal/extract"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func Test_Normalize(t *testing.T) {
	tests := []struct{ in, out string }{
		{"Radiohead", "radiohead"},
		{"  The   Beatles ", "the beatles"},
		{"AC/DC\t", "ac/dc"},
		{"Sigur Rós", "sigur rós"},
		{"", ""},
	}

	for _, test := range tests {
		assert.Equal(t, catalog.Normalize(test.in), test.out)
	}
}

func Test_NaturalKey(t *testing.T) {
	base := extract.Metadata{Title: "Karma Police", Artist: "Radiohead", Album: "OK Computer", Duration: 263*time.Second + 400*time.Millisecond}

	key := catalog.NaturalKey(&base)
	assert.Assert(t, strings.HasPrefix(key, "nk:"))

	t.Run("Case and whitespace differences share a key", func(t *testing.T) {
		variant := base
		variant.Title = "  karma   POLICE"
		variant.Artist = "RADIOHEAD"
		assert.Equal(t, catalog.NaturalKey(&variant), key)
	})

	t.Run("Durations within the same second share a key", func(t *testing.T) {
		variant := base
		variant.Duration = 263*time.Second + 100*time.Millisecond
		assert.Equal(t, catalog.NaturalKey(&variant), key)
	})

	t.Run("Different duration gives a different key", func(t *testing.T) {
		variant := base
		variant.Duration = 300 * time.Second
		assert.Assert(t, catalog.NaturalKey(&variant) != key)
	})

	t.Run("Different album gives a different key", func(t *testing.T) {
		variant := base
		variant.Album = "OK Computer OKNOTOK"
		assert.Assert(t, catalog.NaturalKey(&variant) != key)
	})

	t.Run("External identifier is authoritative", func(t *testing.T) {
		variant := base
		variant.ExternalID = " 6B9A9E7B-5E1A-4A4C-8D51-8F3C5F1C2E11 "
		other := variant
		other.Title = "Something else entirely"

		assert.Equal(t, catalog.NaturalKey(&variant), "ext:6b9a9e7b-5e1a-4a4c-8d51-8f3c5f1c2e11")
		assert.Check(t, is.Equal(catalog.NaturalKey(&variant), catalog.NaturalKey(&other)))
	})
}

func Test_Ownership_TrackKey(t *testing.T) {
	meta := &extract.Metadata{Title: "Karma Police", Artist: "Radiohead", Album: "OK Computer", Duration: 263 * time.Second}
	alice, bob := uuid.New(), uuid.New()

	public := catalog.Ownership{OwnerID: alice}.TrackKey(meta)
	assert.Equal(t, public, catalog.NaturalKey(meta))
	assert.Equal(t, catalog.Ownership{OwnerID: bob}.TrackKey(meta), public, "public tracks are shared between owners")

	alicePrivate := catalog.Ownership{OwnerID: alice, Private: true}.TrackKey(meta)
	bobPrivate := catalog.Ownership{OwnerID: bob, Private: true}.TrackKey(meta)
	assert.Assert(t, alicePrivate != public)
	assert.Assert(t, alicePrivate != bobPrivate)
	assert.Assert(t, strings.HasSuffix(alicePrivate, public))
}
