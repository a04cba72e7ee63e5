package services

import (
	"context"
	"strings"
	"testing"

	"qrlabel-backend/internal/models"
	"qrlabel-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	keys map[string][]byte
}

func (u *fakeUploader) Upload(_ context.Context, key string, png []byte) error {
	if u.keys == nil {
		u.keys = make(map[string][]byte)
	}
	u.keys[key] = png
	return nil
}

func TestProvisionMintsAvailableWristbands(t *testing.T) {
	store := testutil.NewMemStore()
	uploader := &fakeUploader{}
	svc := NewProvisionService(store, uploader, "https://qrlabel.one")

	minted, err := svc.Provision(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, minted, 5)

	seen := make(map[string]bool)
	for _, m := range minted {
		assert.Len(t, m.TokenText, 6)
		for _, c := range m.TokenText {
			assert.Contains(t, tokenChars, string(c))
		}
		assert.False(t, seen[m.TokenText], "tokens must be unique")
		seen[m.TokenText] = true

		assert.Equal(t, "https://qrlabel.one/t/"+m.TokenText, m.URL)
		assert.Equal(t, "labels/"+m.TokenText+".png", m.LabelKey)

		wb, err := store.GetByToken(context.Background(), m.TokenText)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAvailable, wb.Status)
		assert.Nil(t, wb.OwnerAppID)
	}

	assert.Len(t, uploader.keys, 5)
	for key, png := range uploader.keys {
		assert.True(t, strings.HasPrefix(key, "labels/"))
		// PNG magic bytes.
		require.True(t, len(png) > 8)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
	}
}

func TestProvisionWithoutUploader(t *testing.T) {
	store := testutil.NewMemStore()
	svc := NewProvisionService(store, nil, "https://qrlabel.one")

	minted, err := svc.Provision(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, minted, 2)
	for _, m := range minted {
		assert.Empty(t, m.LabelKey)
	}
}

func TestProvisionRejectsBadCount(t *testing.T) {
	svc := NewProvisionService(testutil.NewMemStore(), nil, "https://qrlabel.one")

	_, err := svc.Provision(context.Background(), 0)
	assert.Error(t, err)
	_, err = svc.Provision(context.Background(), 501)
	assert.Error(t, err)
}
