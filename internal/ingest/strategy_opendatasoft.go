package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/models"
)

const idfAidPageURL = "https://www.iledefrance.fr/aides-et-appels-a-projets/"

// OpenDataSoftStrategy pages through an OpenDataSoft v1 "records/search"
// dataset. The field mapping follows the Île-de-France aid catalogue.
type OpenDataSoftStrategy struct{}

type odsResponse struct {
	NHits   int         `json:"nhits"`
	Records []odsRecord `json:"records"`
}

type odsRecord struct {
	RecordID        string    `json:"recordid"`
	RecordTimestamp string    `json:"record_timestamp"`
	Fields          odsFields `json:"fields"`
}

type odsFields struct {
	Title           flexString `json:"nom_de_l_aide_de_la_demarche"`
	URL             flexString `json:"url_descriptif"`
	Reference       flexString `json:"reference_administrative"`
	Organization    flexString `json:"porteur_aide"`
	OpeningDate     flexString `json:"date_ouverture"`
	ClosingDate     flexString `json:"date_cloture"`
	Summary         flexString `json:"chapo_txt"`
	Objective       flexString `json:"objectif_txt"`
	Theme           flexString `json:"theme"`
	Keywords        flexString `json:"mots_cles"`
	WhoCanBenefit   flexString `json:"qui_peut_en_beneficier"`
	Beneficiaries   flexString `json:"beneficiaires"`
	Contact         flexString `json:"contact"`
	Procedures      flexString `json:"demarches_txt"`
	ProceduresPlain flexString `json:"demarches"`
	Amount          flexString `json:"montant"`
}

// flexString accepts a JSON string, number or list of strings. Multi-valued
// dataset fields are joined with ", ".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = flexString(strings.Join(list, ", "))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	return fmt.Errorf("unsupported field value %s", string(data))
}

// themeCategories maps dataset theme keywords to category slugs. Order is
// the order categories are reported in.
var themeCategories = []struct {
	keyword  string
	category models.Category
}{
	{"emploi", models.CategoryInsertionEmploi},
	{"insertion", models.CategoryInsertionEmploi},
	{"formation", models.CategoryInsertionEmploi},
	{"éducation", models.CategoryEducationJeunesse},
	{"jeunesse", models.CategoryEducationJeunesse},
	{"lycée", models.CategoryEducationJeunesse},
	{"recherche", models.CategoryEducationJeunesse},
	{"santé", models.CategorySanteHandicap},
	{"handicap", models.CategorySanteHandicap},
	{"solidarité", models.CategorySolidariteInclusion},
	{"social", models.CategorySolidariteInclusion},
	{"inclusion", models.CategorySolidariteInclusion},
	{"culture", models.CategoryCultureSport},
	{"sport", models.CategoryCultureSport},
	{"environnement", models.CategoryEnvironnementTransition},
	{"transition", models.CategoryEnvironnementTransition},
	{"écologie", models.CategoryEnvironnementTransition},
	{"numérique", models.CategoryNumerique},
	{"digital", models.CategoryNumerique},
	{"association", models.CategoryVieAssociative},
}

func (s *OpenDataSoftStrategy) Collect(ctx context.Context, config SourceConfig, f Fetcher, logger *zap.Logger) ([]models.RawRecord, error) {
	if config.Dataset.Name == "" {
		return nil, fmt.Errorf("dataset name is required for opendatasoft strategy")
	}
	pageSize := config.Dataset.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	maxRecords := config.MaxRecords
	if maxRecords <= 0 {
		maxRecords = 500
	}

	var records []models.RawRecord
	for start := 0; start < maxRecords; start += pageSize {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		pageURL := odsSearchURL(config.BaseURL, config.Dataset.Name, pageSize, start)
		body, fetched, err := readAll(ctx, f, pageURL)
		if err != nil {
			if start == 0 {
				return nil, fmt.Errorf("fetch dataset page: %w", err)
			}
			logger.Warn("dataset page failed", zap.Int("start", start), zap.Error(err))
			break
		}

		var resp odsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			if start == 0 {
				return nil, fmt.Errorf("decode dataset page: %w", err)
			}
			logger.Warn("dataset page undecodable", zap.Int("start", start), zap.Error(err))
			break
		}
		if len(resp.Records) == 0 {
			break
		}

		for _, rec := range resp.Records {
			raw, ok := mapODSRecord(rec, config, fetched.FetchedAt)
			if !ok {
				logger.Debug("record without title skipped", zap.String("record_id", rec.RecordID))
				continue
			}
			records = append(records, raw)
		}
		logger.Info("dataset page fetched",
			zap.Int("start", start),
			zap.Int("records", len(resp.Records)),
			zap.Int("nhits", resp.NHits))

		if start+len(resp.Records) >= resp.NHits {
			break
		}
	}

	if len(records) > maxRecords {
		records = records[:maxRecords]
	}
	return records, nil
}

func odsSearchURL(baseURL, dataset string, rows, start int) string {
	q := url.Values{}
	q.Set("dataset", dataset)
	q.Set("rows", strconv.Itoa(rows))
	q.Set("start", strconv.Itoa(start))
	return strings.TrimRight(baseURL, "/") + "/api/records/1.0/search/?" + q.Encode()
}

func mapODSRecord(rec odsRecord, config SourceConfig, fetchedAt time.Time) (models.RawRecord, bool) {
	fields := rec.Fields
	title := cleanText(string(fields.Title))
	if title == "" {
		return models.RawRecord{}, false
	}

	sourceURL := strings.TrimSpace(string(fields.URL))
	if sourceURL == "" && fields.Reference != "" {
		sourceURL = idfAidPageURL + strings.TrimSpace(string(fields.Reference))
	}
	if sourceURL == "" {
		sourceURL = strings.TrimRight(config.BaseURL, "/") + "/explore/dataset/" + config.Dataset.Name + "/table/?q=" + url.QueryEscape(rec.RecordID)
	}

	org := cleanText(string(fields.Organization))
	if org == "" {
		org = config.Defaults.Organization
	}

	raw := models.RawRecord{
		Title:               title,
		SourceURL:           sourceURL,
		SourceID:            config.ID,
		PublicationDateText: isoDay(string(fields.OpeningDate)),
		DeadlineText:        isoDay(string(fields.ClosingDate)),
		OrganizationName:    org,
		GeoScopeText:        config.Defaults.GeoLabel,
		FetchedAt:           fetchedAt,
	}

	summary := stripHTML(string(fields.Summary))
	if summary == "" {
		summary = stripHTML(string(fields.Objective))
	}
	raw.SummaryText = truncateText(summary, models.MaxResumeLength)
	raw.DescriptionText = stripHTML(string(fields.Objective))

	if theme := strings.ToLower(string(fields.Theme)); theme != "" {
		for _, tc := range themeCategories {
			if strings.Contains(theme, tc.keyword) {
				raw.RawCategories = appendUnique(raw.RawCategories, string(tc.category))
			}
		}
	}
	raw.FreeTags = splitList(string(fields.Keywords), ",")

	for _, audience := range []flexString{fields.WhoCanBenefit, fields.Beneficiaries} {
		for _, entry := range splitList(stripHTML(string(audience)), ",;") {
			raw.TargetAudience = appendUnique(raw.TargetAudience, entry)
		}
	}
	if len(raw.TargetAudience) == 0 {
		raw.TargetAudience = append(raw.TargetAudience, config.Defaults.Audience...)
	}

	if fields.Contact != "" {
		raw.ContactEmail = extractEmail(string(fields.Contact))
	}

	procedures := string(fields.Procedures)
	if procedures == "" {
		procedures = string(fields.ProceduresPlain)
	}
	raw.ApplicationURL = pickApplicationURL(extractURLs(procedures))

	if fields.Amount != "" {
		raw.AmountMin, raw.AmountMax = parseAmountRange(stripHTML(string(fields.Amount)))
	}

	return raw, true
}

// pickApplicationURL prefers online-procedure links over any other URL.
func pickApplicationURL(urls []string) string {
	for _, u := range urls {
		if strings.Contains(u, "mesdemarches") || strings.Contains(u, "candidat") {
			return u
		}
	}
	if len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// isoDay reduces an ISO-8601 timestamp to its YYYY-MM-DD date.
func isoDay(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format("2006-01-02")
	}
	if len(s) >= 10 {
		if _, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return s[:10]
		}
	}
	return s
}
