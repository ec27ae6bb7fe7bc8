package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/models"
)

// maxPromptContent is the number of content runes sent to the model.
const maxPromptContent = 20000

var numberPattern = regexp.MustCompile(`\d[\d \x{00A0}\x{202F}]*(?:[.,]\d+)?`)

// Extraction is the JSON document the model is asked to produce.
type Extraction struct {
	Resume          string    `json:"resume"`
	Categories      llmList   `json:"categories"`
	Tags            llmList   `json:"tags"`
	Eligibilite     llmList   `json:"eligibilite"`
	PublicCible     llmList   `json:"public_cible_detail"`
	MontantMin      llmNumber `json:"montant_min"`
	MontantMax      llmNumber `json:"montant_max"`
	TypeFinancement string    `json:"type_financement"`
	URLCandidature  string    `json:"url_candidature"`
	EmailContact    string    `json:"email_contact"`
	DateLimite      string    `json:"date_limite"`
}

// llmList accepts a list of strings, a single comma-separated string or null.
type llmList []string

func (l *llmList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected list or string, got %s", string(data))
	}
	*l = nil
	if s != nil {
		for _, part := range strings.Split(*s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				*l = append(*l, part)
			}
		}
	}
	return nil
}

// llmNumber accepts a number, a numeric string ("5 000 €") or null.
type llmNumber struct {
	Value *float64
}

func (n *llmNumber) UnmarshalJSON(data []byte) error {
	n.Value = nil
	var f *float64
	if err := json.Unmarshal(data, &f); err == nil {
		n.Value = f
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected number or string, got %s", string(data))
	}
	m := numberPattern.FindString(s)
	if m == "" {
		return nil
	}
	m = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", ",", ".").Replace(strings.TrimSpace(m))
	if v, err := strconv.ParseFloat(m, 64); err == nil {
		n.Value = &v
	}
	return nil
}

func buildPrompt(rec models.CanonicalRecord, content string) string {
	if runes := []rune(content); len(runes) > maxPromptContent {
		content = string(runes[:maxPromptContent])
	}

	categories := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		categories[i] = strconv.Quote(string(c))
	}
	eligibility := make([]string, len(models.EligibilityTypes))
	for i, e := range models.EligibilityTypes {
		eligibility[i] = strconv.Quote(string(e))
	}

	return fmt.Sprintf(`Tu es un expert de l'analyse des appels à projets destinés aux associations.
Extrais des données structurées du texte ci-dessous.

Texte :
"""
%s
"""
(texte tronqué s'il est trop long)

Métadonnées existantes :
- Titre : %s
- Organisme : %s

Renvoie un objet JSON avec les champs suivants. Utilise null si une information est absente.

1. "resume" : résumé concis en français (400 caractères maximum), centré sur l'objectif.
2. "categories" : liste de catégories choisies uniquement parmi [%s].
3. "tags" : mots-clés pertinents en français (5 maximum).
4. "eligibilite" : structures éligibles choisies uniquement parmi [%s].
5. "public_cible_detail" : liste de publics visés (ex. "Jeunes de 12-25 ans", "Séniors isolés").
6. "montant_min" : montant minimum en euros (nombre).
7. "montant_max" : montant maximum en euros (nombre).
8. "type_financement" : type de financement (ex. "Subvention", "Prix", "Apport en nature").
9. "url_candidature" : lien direct vers le formulaire de candidature.
10. "email_contact" : adresse e-mail de contact.
11. "date_limite" : date limite au format YYYY-MM-DD.

Réponds UNIQUEMENT avec l'objet JSON.`,
		content, rec.Title, rec.Organization.Name,
		strings.Join(categories, ", "), strings.Join(eligibility, ", "))
}

// extract asks the model for an Extraction, first in JSON mode and then in
// text mode when the JSON answer cannot be used.
func extract(ctx context.Context, llm Completer, prompt string, logger *zap.Logger) (*Extraction, error) {
	resp, err := llm.GenerateCompletion(ctx, prompt, true)
	if err == nil {
		data, parseErr := parseLLMResponse(resp)
		if parseErr == nil {
			return data, nil
		}
		logger.Debug("JSON mode answer unusable, retrying in text mode", zap.Error(parseErr))
	} else {
		if ctx.Err() != nil {
			return nil, err
		}
		logger.Debug("JSON mode generation failed, retrying in text mode", zap.Error(err))
	}

	resp, err = llm.GenerateCompletion(ctx, prompt, false)
	if err != nil {
		return nil, err
	}
	data, err := parseLLMResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse LLM JSON after retry: %w", err)
	}
	return data, nil
}

func parseLLMResponse(resp string) (*Extraction, error) {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	if jsonStr, ok := extractFirstJSONObject(cleaned); ok {
		cleaned = jsonStr
	}

	var data Extraction
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// extractFirstJSONObject finds the first outermost balanced {...}
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if char == '{' {
				depth++
			} else if char == '}' {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}
