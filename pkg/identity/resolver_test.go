package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/identity"
	"github.com/rowforge/enrich/pkg/normalize"
)

func resolve(t *testing.T, raw map[string]any, fields ...string) *identity.Identity {
	t.Helper()
	in := normalize.NewInput("t1", "r1", raw)
	return identity.NewResolver().Resolve(in, fields)
}

func TestResolve_LinkedInIsStrongPerson(t *testing.T) {
	id := resolve(t, map[string]any{"linkedin": "https://linkedin.com/in/jane-doe"}, "name", "title")
	assert.Equal(t, identity.EntityPerson, id.EntityType)
	assert.Equal(t, identity.StrengthStrong, id.Strength)
	assert.Equal(t, identity.StrategyDirectLookup, id.Strategy)
	assert.Equal(t, identity.SensitivitySemiPrivate, id.Sensitivity)
	assert.True(t, id.HasMinimumIdentity())
}

func TestResolve_CompanyLinkedIn(t *testing.T) {
	id := resolve(t, map[string]any{"linkedin": "https://linkedin.com/company/acme"})
	assert.Equal(t, identity.EntityCompany, id.EntityType)
	assert.Equal(t, identity.StrengthStrong, id.Strength)
}

func TestResolve_CorporateEmailIsStrong(t *testing.T) {
	id := resolve(t, map[string]any{"email": "jane@acme.com"})
	assert.Equal(t, identity.EntityPerson, id.EntityType)
	assert.Equal(t, identity.StrengthStrong, id.Strength)
}

func TestResolve_FreeEmailAloneIsInvalid(t *testing.T) {
	id := resolve(t, map[string]any{"email": "jane@gmail.com"})
	assert.Equal(t, identity.StrengthInvalid, id.Strength)
	assert.Equal(t, identity.StrategyFailFast, id.Strategy)
	assert.False(t, id.HasMinimumIdentity())
}

func TestResolve_FreeEmailDomainFailsFast(t *testing.T) {
	// A row whose only identifier is a consumer mail domain cannot name a company.
	in := &normalize.Input{RowID: "r1", TableID: "t1", Domain: "gmail.com"}
	id := identity.NewResolver().Resolve(in, []string{"company"})
	assert.Equal(t, identity.StrengthInvalid, id.Strength)
	assert.False(t, id.HasMinimumIdentity())
}

func TestResolve_DomainIsStrongCompany(t *testing.T) {
	id := resolve(t, map[string]any{"domain": "acme.com"})
	assert.Equal(t, identity.EntityCompany, id.EntityType)
	assert.Equal(t, identity.StrengthStrong, id.Strength)
	assert.Equal(t, identity.SensitivitySemiPrivate, id.Sensitivity)
}

func TestResolve_NameCompanyModerate(t *testing.T) {
	id := resolve(t, map[string]any{"name": "Zadie Xiang", "company": "Fernwood Labs"})
	assert.Equal(t, identity.StrengthModerate, id.Strength)
	assert.Equal(t, identity.StrategySearchAndValidate, id.Strategy)
	assert.Equal(t, identity.SensitivityPublicOnly, id.Sensitivity)
}

func TestResolve_CommonNameBigCompanyIsWeak(t *testing.T) {
	id := resolve(t, map[string]any{"name": "John Smith", "company": "Google"})
	assert.Equal(t, identity.StrengthWeak, id.Strength)
	assert.Equal(t, identity.StrategyHypothesisScore, id.Strategy)
	assert.Equal(t, identity.AmbiguityHigh, id.AmbiguityRisk)
	assert.True(t, id.HasMinimumIdentity())
}

func TestResolve_NameOnlyFailsFast(t *testing.T) {
	id := resolve(t, map[string]any{"name": "Jane Doe"})
	assert.Equal(t, identity.StrengthInvalid, id.Strength)
	assert.False(t, id.HasMinimumIdentity())
}

func TestResolve_EmptyInput(t *testing.T) {
	id := resolve(t, map[string]any{})
	assert.Equal(t, identity.EntityUnknown, id.EntityType)
	assert.Equal(t, identity.StrategyFailFast, id.Strategy)
	assert.Zero(t, id.Confidence)
}

func TestResolve_AvailableFields(t *testing.T) {
	id := resolve(t, map[string]any{"name": "Jane Doe", "company": "Acme", "email": "jane@acme.com"})
	require.NotEmpty(t, id.AvailableFields)
	assert.Contains(t, id.AvailableFields, "name")
	assert.Contains(t, id.AvailableFields, "company")
	assert.Contains(t, id.AvailableFields, "email")
	assert.Contains(t, id.AvailableFields, "domain") // derived from the email
}
