package models

import "strings"

// Category is a value of the closed thematic taxonomy.
type Category string

const (
	CategoryInsertionEmploi         Category = "insertion-emploi"
	CategoryEducationJeunesse       Category = "education-jeunesse"
	CategorySanteHandicap           Category = "sante-handicap"
	CategoryCultureSport            Category = "culture-sport"
	CategoryEnvironnementTransition Category = "environnement-transition"
	CategorySolidariteInclusion     Category = "solidarite-inclusion"
	CategoryVieAssociative          Category = "vie-associative"
	CategoryNumerique               Category = "numerique"
	CategoryEconomieESS             Category = "economie-ess"
	CategoryLogementUrbanisme       Category = "logement-urbanisme"
	CategoryMobiliteTransport       Category = "mobilite-transport"
	CategoryAutre                   Category = "autre"
)

// Categories lists the taxonomy in declaration order. Classifiers break
// ties with this order, so it must stay stable.
var Categories = []Category{
	CategoryInsertionEmploi,
	CategoryEducationJeunesse,
	CategorySanteHandicap,
	CategoryCultureSport,
	CategoryEnvironnementTransition,
	CategorySolidariteInclusion,
	CategoryVieAssociative,
	CategoryNumerique,
	CategoryEconomieESS,
	CategoryLogementUrbanisme,
	CategoryMobiliteTransport,
	CategoryAutre,
}

// ParseCategory converts an untrusted string into a Category. Unknown values
// report false; choosing a fallback is left to the caller.
func ParseCategory(s string) (Category, bool) {
	v := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range Categories {
		if c == v {
			return c, true
		}
	}
	return "", false
}

// EligibilityType is a value of the closed eligible-applicant taxonomy.
//
// An empty eligibility set on a record means "no restriction, open to all",
// not "nobody is eligible". Filters in the collection package rely on this.
type EligibilityType string

const (
	EligibilityAssociations   EligibilityType = "associations"
	EligibilityCollectivites  EligibilityType = "collectivites"
	EligibilityEtablissements EligibilityType = "etablissements"
	EligibilityEntreprises    EligibilityType = "entreprises"
	EligibilityProfessionnels EligibilityType = "professionnels"
	EligibilityParticuliers   EligibilityType = "particuliers"
	EligibilityAutre          EligibilityType = "autre"
)

var EligibilityTypes = []EligibilityType{
	EligibilityAssociations,
	EligibilityCollectivites,
	EligibilityEtablissements,
	EligibilityEntreprises,
	EligibilityProfessionnels,
	EligibilityParticuliers,
	EligibilityAutre,
}

func ParseEligibilityType(s string) (EligibilityType, bool) {
	v := EligibilityType(strings.ToLower(strings.TrimSpace(s)))
	for _, e := range EligibilityTypes {
		if e == v {
			return e, true
		}
	}
	return "", false
}

// GeoScope is the geographic level of a call. The zero value means unset.
type GeoScope string

const (
	GeoScopeUnset         GeoScope = ""
	GeoScopeLocal         GeoScope = "local"
	GeoScopeDepartmental  GeoScope = "departmental"
	GeoScopeRegional      GeoScope = "regional"
	GeoScopeNational      GeoScope = "national"
	GeoScopeEuropean      GeoScope = "european"
	GeoScopeInternational GeoScope = "international"
)

var GeoScopes = []GeoScope{
	GeoScopeLocal,
	GeoScopeDepartmental,
	GeoScopeRegional,
	GeoScopeNational,
	GeoScopeEuropean,
	GeoScopeInternational,
}

func ParseGeoScope(s string) (GeoScope, bool) {
	v := GeoScope(strings.ToLower(strings.TrimSpace(s)))
	for _, g := range GeoScopes {
		if g == v {
			return g, true
		}
	}
	return GeoScopeUnset, false
}

type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusPermanent Status = "permanent"
	StatusUnknown   Status = "unknown"
)

func ParseStatus(s string) (Status, bool) {
	switch v := Status(strings.ToLower(strings.TrimSpace(s))); v {
	case StatusOpen, StatusClosed, StatusPermanent, StatusUnknown:
		return v, true
	}
	return "", false
}

type Urgency string

const (
	UrgencyExpired     Urgency = "expired"
	UrgencyUrgent      Urgency = "urgent"
	UrgencyUpcoming    Urgency = "upcoming"
	UrgencyComfortable Urgency = "comfortable"
	UrgencyPermanent   Urgency = "permanent"
)

// Urgencies is the display priority order, most pressing first.
var Urgencies = []Urgency{
	UrgencyExpired,
	UrgencyUrgent,
	UrgencyUpcoming,
	UrgencyComfortable,
	UrgencyPermanent,
}

func ParseUrgency(s string) (Urgency, bool) {
	v := Urgency(strings.ToLower(strings.TrimSpace(s)))
	for _, u := range Urgencies {
		if u == v {
			return u, true
		}
	}
	return "", false
}

// Rank returns the position of u in Urgencies, or len(Urgencies) for
// unknown values.
func (u Urgency) Rank() int {
	for i, v := range Urgencies {
		if v == u {
			return i
		}
	}
	return len(Urgencies)
}

const (
	UrgentThresholdDays   = 7
	UpcomingThresholdDays = 30
)
