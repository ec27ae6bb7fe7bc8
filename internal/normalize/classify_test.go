package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/david/aap-watch/internal/models"
)

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name string
		text string
		raw  []string
		want []models.Category
	}{
		{
			name: "exact raw match skips inference",
			text: "jeunesse scolaire étudiant",
			raw:  []string{"numerique", "not-a-category", "Culture-Sport"},
			want: []models.Category{models.CategoryNumerique, models.CategoryCultureSport},
		},
		{
			name: "exact raw capped at three and deduplicated",
			raw:  []string{"numerique", "numerique", "autre", "economie-ess", "culture-sport"},
			want: []models.Category{models.CategoryNumerique, models.CategoryAutre, models.CategoryEconomieESS},
		},
		{
			name: "unknown raw falls back to text",
			text: "Appel à projets Jeunesse 2026",
			raw:  []string{"Jeunesse et sport"},
			// "ess" is a substring of "jeunesse"
			want: []models.Category{models.CategoryEducationJeunesse, models.CategoryEconomieESS},
		},
		{
			name: "highest score first",
			text: "Projet sportif : sport, musique et théâtre pour les jeunes du quartier",
			want: []models.Category{
				models.CategoryCultureSport,
				models.CategoryEducationJeunesse,
				models.CategoryLogementUrbanisme,
			},
		},
		{
			name: "ties keep taxonomy order",
			text: "emploi et logement",
			want: []models.Category{models.CategoryInsertionEmploi, models.CategoryLogementUrbanisme},
		},
		{
			name: "no match is empty, not autre",
			text: "xyz qwv",
			want: []models.Category{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCategories(tt.text, tt.raw))
		})
	}
}

func TestClassifyEligibility(t *testing.T) {
	tests := []struct {
		name     string
		audience []string
		want     []models.EligibilityType
	}{
		{"empty means unrestricted", nil, nil},
		{"association", []string{"associations loi 1901"}, []models.EligibilityType{models.EligibilityAssociations}},
		{
			"several types in taxonomy order",
			[]string{"Entreprises de l'ESS", "Communes et EPCI", "Associations"},
			[]models.EligibilityType{
				models.EligibilityAssociations,
				models.EligibilityCollectivites,
				models.EligibilityEntreprises,
			},
		},
		{"nothing recognized", []string{"zzz"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyEligibility(tt.audience))
		})
	}
}

func TestClassifyGeoScope(t *testing.T) {
	tests := []struct {
		label string
		want  models.GeoScope
	}{
		{"France entière", models.GeoScopeNational},
		{"Bretagne, France", models.GeoScopeNational},
		{"Union européenne", models.GeoScopeEuropean},
		{"Mondial", models.GeoScopeInternational},
		{"Occitanie", models.GeoScopeRegional},
		{"Seine-Saint-Denis (93)", models.GeoScopeDepartmental},
		{"Essonne", models.GeoScopeDepartmental},
		{"Paris (75)", models.GeoScopeDepartmental},
		{"Paris 11e arrondissement", models.GeoScopeLocal},
		{"Lyon", models.GeoScopeUnset},
		{"", models.GeoScopeUnset},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyGeoScope(tt.label))
		})
	}
}
