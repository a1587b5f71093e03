// Package identity classifies a normalized input before any provider is
// consulted: what kind of entity it describes, how strongly it identifies
// one real-world entity, and which lookup strategy the planner may use.
//
// Fail-closed: inputs that cannot identify a single entity resolve to
// strength INVALID and strategy FAIL_FAST, and the orchestrator
// short-circuits the row without spending anything.
package identity

import (
	"fmt"
	"strings"

	"github.com/rowforge/enrich/pkg/normalize"
)

// EntityType is the kind of entity an input row describes.
type EntityType string

const (
	EntityPerson  EntityType = "PERSON"
	EntityCompany EntityType = "COMPANY"
	EntityUnknown EntityType = "UNKNOWN"
)

// Strength grades how uniquely the input pins down one entity.
type Strength string

const (
	StrengthStrong   Strength = "STRONG"
	StrengthModerate Strength = "MODERATE"
	StrengthWeak     Strength = "WEAK"
	StrengthInvalid  Strength = "INVALID"
)

// Strategy is the lookup approach the planner should take.
type Strategy string

const (
	StrategyDirectLookup      Strategy = "DIRECT_LOOKUP"
	StrategySearchAndValidate Strategy = "SEARCH_AND_VALIDATE"
	StrategyHypothesisScore   Strategy = "HYPOTHESIS_AND_SCORE"
	StrategyFailFast          Strategy = "FAIL_FAST"
)

// Sensitivity bounds what classes of data providers may return for the row.
type Sensitivity string

const (
	SensitivityPublicOnly  Sensitivity = "PUBLIC_ONLY"
	SensitivitySemiPrivate Sensitivity = "SEMI_PRIVATE"
)

// AmbiguityRisk grades the chance the input matches more than one entity.
type AmbiguityRisk string

const (
	AmbiguityLow  AmbiguityRisk = "LOW"
	AmbiguityHigh AmbiguityRisk = "HIGH"
)

// Identity is the resolver's verdict for one input row.
type Identity struct {
	EntityType      EntityType    `json:"entity_type"`
	Strength        Strength      `json:"identity_strength"`
	InputSignature  string        `json:"input_signature"`
	Strategy        Strategy      `json:"strategy"`
	Sensitivity     Sensitivity   `json:"sensitivity_level"`
	AmbiguityRisk   AmbiguityRisk `json:"ambiguity_risk"`
	RequiredFields  []string      `json:"required_fields,omitempty"`
	AvailableFields []string      `json:"available_fields"`
	Confidence      float64       `json:"confidence"`
}

// HasMinimumIdentity reports whether the row is worth any provider call.
func (id *Identity) HasMinimumIdentity() bool {
	return id.Strategy != StrategyFailFast
}

// commonFirstNames and largeCompanies together mark the weak-identity
// combination: a frequent first name at a very large employer is close to
// unresolvable without a direct handle.
var commonFirstNames = map[string]bool{
	"james": true, "john": true, "robert": true, "michael": true,
	"william": true, "david": true, "richard": true, "joseph": true,
	"thomas": true, "chris": true, "christopher": true, "daniel": true,
	"matthew": true, "anthony": true, "mark": true, "mary": true,
	"patricia": true, "jennifer": true, "linda": true, "elizabeth": true,
	"sarah": true, "susan": true, "jessica": true, "karen": true,
	"emily": true, "anna": true, "maria": true, "laura": true,
	"smith": true,
}

var largeCompanies = map[string]bool{
	"google": true, "alphabet": true, "microsoft": true, "apple": true,
	"amazon": true, "meta": true, "facebook": true, "ibm": true,
	"oracle": true, "intel": true, "cisco": true, "salesforce": true,
	"accenture": true, "deloitte": true, "pwc": true, "kpmg": true,
	"ey": true, "walmart": true, "jpmorgan": true, "citi": true,
	"wellsfargo": true, "bankofamerica": true, "tcs": true, "infosys": true,
}

// Resolver derives an Identity from a normalized input.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve classifies the input signature and derives type, strength,
// strategy and sensitivity for the requested fields.
func (r *Resolver) Resolve(in *normalize.Input, fields []string) *Identity {
	id := &Identity{
		RequiredFields:  append([]string(nil), fields...),
		AvailableFields: availableFields(in),
	}

	switch {
	case in.LinkedInURL != "":
		id.InputSignature = "linkedin_url"
		id.EntityType = entityFromLinkedIn(in.LinkedInURL)
		id.Strength = StrengthStrong
		id.Confidence = 0.95
	case in.Email != "":
		id.InputSignature = "email"
		id.EntityType = EntityPerson
		if _, corporate := normalize.EmailDomain(in.Email); corporate {
			id.Strength = StrengthStrong
			id.Confidence = 0.9
		} else if in.Name != "" {
			// Free mailbox plus a name still narrows to a person, weakly.
			id.InputSignature = "email+name"
			id.Strength = StrengthWeak
			id.Confidence = 0.4
		} else {
			id.Strength = StrengthInvalid
			id.Confidence = 0.1
		}
	case in.Domain != "":
		id.InputSignature = "domain"
		id.EntityType = EntityCompany
		if normalize.IsFreeEmailDomain(in.Domain) {
			id.Strength = StrengthInvalid
			id.Confidence = 0.05
		} else {
			id.Strength = StrengthStrong
			id.Confidence = 0.9
		}
	case in.Name != "" && in.Company != "":
		id.InputSignature = "name+company"
		id.EntityType = EntityPerson
		if weakNameCompany(in.Name, in.Company) {
			id.Strength = StrengthWeak
			id.Confidence = 0.35
		} else {
			id.Strength = StrengthModerate
			id.Confidence = 0.65
		}
	case in.Company != "":
		id.InputSignature = "company"
		id.EntityType = EntityCompany
		id.Strength = StrengthModerate
		id.Confidence = 0.6
	case in.Name != "":
		id.InputSignature = "name"
		id.EntityType = EntityPerson
		id.Strength = StrengthInvalid
		id.Confidence = 0.15
	default:
		id.InputSignature = "empty"
		id.EntityType = EntityUnknown
		id.Strength = StrengthInvalid
		id.Confidence = 0
	}

	id.AmbiguityRisk = ambiguityRisk(in, id)
	id.Strategy = strategyFor(id.Strength)
	id.Sensitivity = sensitivityFor(id.Strength, id.AmbiguityRisk)
	return id
}

func entityFromLinkedIn(url string) EntityType {
	u := strings.ToLower(url)
	if strings.Contains(u, "/company/") || strings.Contains(u, "/school/") {
		return EntityCompany
	}
	return EntityPerson
}

func weakNameCompany(name, company string) bool {
	first := strings.ToLower(strings.Fields(name)[0])
	return commonFirstNames[first] && largeCompanies[normalize.CompanySlug(company)]
}

func ambiguityRisk(in *normalize.Input, id *Identity) AmbiguityRisk {
	if id.Strength == StrengthStrong && (in.LinkedInURL != "" || in.Domain != "" || in.Email != "") {
		return AmbiguityLow
	}
	if id.InputSignature == "name+company" && !weakNameCompany(in.Name, in.Company) {
		return AmbiguityLow
	}
	return AmbiguityHigh
}

func strategyFor(s Strength) Strategy {
	switch s {
	case StrengthStrong:
		return StrategyDirectLookup
	case StrengthModerate:
		return StrategySearchAndValidate
	case StrengthWeak:
		return StrategyHypothesisScore
	default:
		return StrategyFailFast
	}
}

// sensitivityFor implements the permission matrix: only a strong identity
// with low ambiguity unlocks semi-private data.
func sensitivityFor(s Strength, risk AmbiguityRisk) Sensitivity {
	if s == StrengthStrong && risk == AmbiguityLow {
		return SensitivitySemiPrivate
	}
	return SensitivityPublicOnly
}

func availableFields(in *normalize.Input) []string {
	var fields []string
	for _, f := range []string{"name", "company", "domain", "email", "linkedin_url"} {
		if in.Has(f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// String renders a compact debug form.
func (id *Identity) String() string {
	return fmt.Sprintf("%s/%s sig=%s strategy=%s", id.EntityType, id.Strength, id.InputSignature, id.Strategy)
}
