package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintair/mintair-cloud/internal/apperror"
)

func TestDocsListOmitsBodies(t *testing.T) {
	svc := NewDocsService()

	pages := svc.List(context.Background())
	require.NotEmpty(t, pages)
	for _, p := range pages {
		assert.NotEmpty(t, p.Slug)
		assert.NotEmpty(t, p.Title)
		assert.Empty(t, p.Body)
	}
}

func TestDocsSearch(t *testing.T) {
	svc := NewDocsService()
	ctx := context.Background()

	// "referral" appears only in the referral program page.
	hits := svc.Search(ctx, "  ReFeRRal  ")
	require.Len(t, hits, 1)
	assert.Equal(t, "referrals", hits[0].Slug)
	assert.Empty(t, hits[0].Body)

	// Body text matches too, even when the summary does not mention it.
	hits = svc.Search(ctx, "openssh")
	require.Len(t, hits, 1)
	assert.Equal(t, "ssh-keys", hits[0].Slug)

	assert.Empty(t, svc.Search(ctx, "kubernetes"))
	assert.Len(t, svc.Search(ctx, ""), len(svc.List(ctx)))
}

func TestDocsGet(t *testing.T) {
	svc := NewDocsService()
	ctx := context.Background()

	page, err := svc.Get(ctx, "getting-started")
	require.NoError(t, err)
	assert.NotEmpty(t, page.Body)

	_, err = svc.Get(ctx, "no-such-page")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
