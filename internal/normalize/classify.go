package normalize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/david/aap-watch/internal/models"
)

const maxCategories = models.MaxCategories

type categoryKeywords struct {
	category models.Category
	keywords []string
}

// categoryTable is ordered like models.Categories; ties in scoring fall
// back to this order. "autre" has no keywords and is never inferred.
var categoryTable = []categoryKeywords{
	{models.CategoryInsertionEmploi, []string{
		"emploi", "insertion", "travail", "recrutement", "formation professionnelle",
		"chômage", "réinsertion", "apprentissage",
	}},
	{models.CategoryEducationJeunesse, []string{
		"education", "éducation", "jeunesse", "jeune", "scolaire", "étudiant",
		"lycée", "collège", "université", "enfance", "périscolaire",
	}},
	{models.CategorySanteHandicap, []string{
		"santé", "sante", "handicap", "médical", "hôpital", "prévention",
		"maladie", "soin", "thérapie", "pmr", "accessibilité",
	}},
	{models.CategoryCultureSport, []string{
		"culture", "culturel", "art", "musique", "théâtre", "sport", "sportif",
		"musée", "patrimoine", "spectacle", "danse", "cinéma",
	}},
	{models.CategoryEnvironnementTransition, []string{
		"environnement", "écologie", "transition", "climat", "énergie",
		"développement durable", "biodiversité", "recyclage", "vert",
	}},
	{models.CategorySolidariteInclusion, []string{
		"solidarité", "solidarite", "inclusion", "social", "précarité",
		"pauvreté", "aide", "accompagnement", "égalité", "diversité",
	}},
	{models.CategoryVieAssociative, []string{
		"associatif", "association", "bénévolat", "volontariat", "engagement",
		"citoyen", "citoyenneté",
	}},
	{models.CategoryNumerique, []string{
		"numérique", "numerique", "digital", "innovation", "tech", "data",
		"informatique", "startup", "ia", "intelligence artificielle",
	}},
	{models.CategoryEconomieESS, []string{
		"ess", "économie sociale", "esus", "coopérative", "scop", "scic",
		"économie solidaire", "impact",
	}},
	{models.CategoryLogementUrbanisme, []string{
		"logement", "habitat", "urbanisme", "ville", "quartier", "rénovation",
		"hlm", "hébergement",
	}},
	{models.CategoryMobiliteTransport, []string{
		"mobilité", "transport", "déplacement", "vélo", "voiture", "train",
		"route", "circulation",
	}},
}

// ClassifyCategories assigns up to three taxonomy categories.
//
// When raw contains values that exactly match the taxonomy, those are
// returned and the text is ignored. Otherwise each category scores one
// point per distinct keyword found as a case-insensitive substring of text;
// zero scores are dropped and ties keep taxonomy order. No match returns an
// empty slice; defaulting to "autre" is up to the caller.
func ClassifyCategories(text string, raw []string) []models.Category {
	var exact []models.Category
	for _, r := range raw {
		c, ok := models.ParseCategory(r)
		if !ok || containsCategory(exact, c) {
			continue
		}
		exact = append(exact, c)
		if len(exact) == maxCategories {
			break
		}
	}
	if len(exact) > 0 {
		return exact
	}

	lower := strings.ToLower(text)
	type scored struct {
		category models.Category
		score    int
	}
	var scores []scored
	for _, entry := range categoryTable {
		n := 0
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				n++
			}
		}
		if n > 0 {
			scores = append(scores, scored{entry.category, n})
		}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	out := make([]models.Category, 0, maxCategories)
	for i := 0; i < len(scores) && i < maxCategories; i++ {
		out = append(out, scores[i].category)
	}
	return out
}

func containsCategory(list []models.Category, c models.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

type eligibilityKeywords struct {
	eligibility models.EligibilityType
	keywords    []string
}

var eligibilityTable = []eligibilityKeywords{
	{models.EligibilityAssociations, []string{
		"association", "loi 1901", "fondation", "ong", "asso",
	}},
	{models.EligibilityCollectivites, []string{
		"collectivité", "commune", "mairie", "département", "région", "epci",
		"intercommunalité", "métropole",
	}},
	{models.EligibilityEtablissements, []string{
		"établissement", "école", "université", "hôpital", "laboratoire",
		"enseignement", "recherche", "formation",
	}},
	{models.EligibilityEntreprises, []string{
		"entreprise", "société", "pme", "tpe", "startup", "esus",
		"entreprise sociale", "sarl", "sas",
	}},
	{models.EligibilityProfessionnels, []string{
		"professionnel", "indépendant", "artisan", "commerçant", "créateur",
		"freelance", "autoentrepreneur",
	}},
	{models.EligibilityParticuliers, []string{
		"particulier", "individu", "citoyen", "étudiant", "demandeur", "jeune",
		"senior", "personne",
	}},
}

// ClassifyEligibility infers applicant types from target-audience texts.
// Types are not exclusive and come back in taxonomy order.
//
// An empty result means no restriction was found, which consumers treat
// as open to every applicant type, not as nobody being eligible.
func ClassifyEligibility(audience []string) []models.EligibilityType {
	if len(audience) == 0 {
		return nil
	}
	text := strings.ToLower(strings.Join(audience, " "))

	var out []models.EligibilityType
	for _, entry := range eligibilityTable {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				out = append(out, entry.eligibility)
				break
			}
		}
	}
	return out
}

type geoTier struct {
	scope    models.GeoScope
	keywords []string
	pattern  *regexp.Regexp
}

// geoCascade is checked top to bottom and the first tier that matches
// wins, so a label naming both France and a region is national.
var geoCascade = []geoTier{
	{scope: models.GeoScopeNational, keywords: []string{"france", "national", "métropole"}},
	{scope: models.GeoScopeEuropean, keywords: []string{"europe", "européen", "ue", "union européenne"}},
	{scope: models.GeoScopeInternational, keywords: []string{"international", "mondial", "monde"}},
	{scope: models.GeoScopeRegional, keywords: []string{
		"île-de-france", "ile-de-france", "idf", "auvergne", "bretagne",
		"normandie", "occitanie", "paca", "grand est", "hauts-de-france",
		"nouvelle-aquitaine", "pays de la loire", "bourgogne", "centre",
	}},
	{
		scope:    models.GeoScopeDepartmental,
		pattern:  regexp.MustCompile(`\b(75|77|78|91|92|93|94|95)\b`),
		keywords: []string{"seine", "hauts-de-seine", "val-de-marne", "essonne", "yvelines"},
	},
	{scope: models.GeoScopeLocal, keywords: []string{"paris", "arrondissement", "commune", "ville"}},
}

// ClassifyGeoScope maps a geography label to its level. Unknown labels
// return GeoScopeUnset.
func ClassifyGeoScope(label string) models.GeoScope {
	lower := strings.ToLower(strings.TrimSpace(label))
	if lower == "" {
		return models.GeoScopeUnset
	}
	for _, tier := range geoCascade {
		if tier.pattern != nil && tier.pattern.MatchString(lower) {
			return tier.scope
		}
		for _, kw := range tier.keywords {
			if strings.Contains(lower, kw) {
				return tier.scope
			}
		}
	}
	return models.GeoScopeUnset
}
