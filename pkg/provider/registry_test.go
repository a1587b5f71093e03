package provider_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
)

func TestRegistry_UniqueNames(t *testing.T) {
	p := provider.NewStatic("dup", provider.TierFree, 0, []string{"name"}, func(*normalize.Input, string) (any, float64) { return nil, 0 })
	_, err := provider.NewRegistry(p, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_ByName(t *testing.T) {
	reg, err := provider.NewRegistry(provider.MockSet()...)
	require.NoError(t, err)

	p, err := reg.ByName("hunter")
	require.NoError(t, err)
	assert.Equal(t, provider.TierCheap, p.Tier())

	_, err = reg.ByName("nonexistent")
	assert.ErrorIs(t, err, provider.ErrProviderNotFound)
}

func TestRegistry_ByFieldTierOrder(t *testing.T) {
	reg, err := provider.NewRegistry(provider.MockSet()...)
	require.NoError(t, err)

	candidates := reg.ByField(provider.FieldCompany)
	require.NotEmpty(t, candidates)
	for i := 1; i < len(candidates); i++ {
		assert.LessOrEqual(t, candidates[i-1].Tier().Rank(), candidates[i].Tier().Rank(),
			"candidates must be sorted free < cheap < premium")
	}
	// The free tier leads the waterfall.
	assert.Equal(t, provider.TierFree, candidates[0].Tier())
}

func TestRegistry_ByTier(t *testing.T) {
	reg, err := provider.NewRegistry(provider.MockSet()...)
	require.NoError(t, err)

	for _, p := range reg.ByTier(provider.TierFree) {
		assert.Equal(t, provider.TierFree, p.Tier())
		assert.Zero(t, p.CostCents())
	}
	assert.NotEmpty(t, reg.ByTier(provider.TierPremium))
}

func TestStatic_NotFoundIsNilNil(t *testing.T) {
	p := provider.NewStatic("empty", provider.TierFree, 0, []string{"name"},
		func(*normalize.Input, string) (any, float64) { return nil, 0 })
	res, err := p.Enrich(context.Background(), &normalize.Input{}, "name")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMockLinkedIn_DirectHandle(t *testing.T) {
	reg, err := provider.NewRegistry(provider.MockSet()...)
	require.NoError(t, err)
	li, err := reg.ByName("linkedin")
	require.NoError(t, err)

	in := &normalize.Input{RowID: "r1", LinkedInURL: "https://linkedin.com/in/jane-doe"}
	res, err := li.Enrich(context.Background(), in, provider.FieldTitle)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "linkedin", res.Source)
	assert.GreaterOrEqual(t, res.Confidence, 0.9)
	assert.Equal(t, int64(10), res.CostCents)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want provider.ErrorClass
	}{
		{provider.ErrRateLimited, provider.ClassRateLimited},
		{provider.ErrBudgetExceeded, provider.ClassRejected},
		{provider.ErrCircuitOpen, provider.ClassRejected},
		{context.DeadlineExceeded, provider.ClassTransient},
		{context.Canceled, provider.ClassRejected},
		{fmt.Errorf("get profile: %w", context.Canceled), provider.ClassRejected},
		{&provider.HTTPError{Provider: "x", Code: http.StatusTooManyRequests}, provider.ClassRateLimited},
		{&provider.HTTPError{Provider: "x", Code: http.StatusForbidden}, provider.ClassRateLimited},
		{&provider.HTTPError{Provider: "x", Code: http.StatusBadGateway}, provider.ClassTransient},
		{&provider.HTTPError{Provider: "x", Code: http.StatusBadRequest}, provider.ClassPermanent},
		{errors.New("connection reset"), provider.ClassTransient},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, provider.Classify(tc.err), tc.err.Error())
	}
}
