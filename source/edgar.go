package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	DefaultEdgarDataURL    = "https://data.sec.gov"
	DefaultEdgarArchiveURL = "https://www.sec.gov/Archives/edgar/data"
	DefaultEdgarUserAgent  = "TaxAssistant research.bot@example.com"
	// SEC fair access allows 10 requests per second.
	DefaultEdgarRequestsPerSecond = 10
)

// Company is an EDGAR filer.
type Company struct {
	Name string `mapstructure:"name"`
	CIK  string `mapstructure:"cik"`
}

// DefaultCompanies are ingested when no companies are configured.
var DefaultCompanies = []Company{
	{Name: "Apple Inc.", CIK: "0000320193"},
	{Name: "Microsoft Corporation", CIK: "0000789019"},
	{Name: "Amazon.com, Inc.", CIK: "0001018724"},
	{Name: "Alphabet Inc.", CIK: "0001652044"},
	{Name: "Meta Platforms, Inc.", CIK: "0001326801"},
}

// DefaultFormTypes are the annual and quarterly reports.
var DefaultFormTypes = []string{"10-K", "10-Q"}

type EdgarConfig struct {
	DataURL    string
	ArchiveURL string
	UserAgent  string
	Companies  []Company
	FormTypes  []string
	// PerForm caps the filings fetched per company and form type.
	PerForm           int
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// EdgarSource fetches the most recent filings of a list of companies from the
// SEC EDGAR submissions API.
type EdgarSource struct {
	config  EdgarConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

type filing struct {
	company         Company
	form            string
	accessionNumber string
	filingDate      string
	primaryDocument string
}

func NewEdgarSource(config EdgarConfig, logger *slog.Logger) *EdgarSource {
	if config.DataURL == "" {
		config.DataURL = DefaultEdgarDataURL
	}
	if config.ArchiveURL == "" {
		config.ArchiveURL = DefaultEdgarArchiveURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultEdgarUserAgent
	}
	if len(config.Companies) == 0 {
		config.Companies = DefaultCompanies
	}
	if len(config.FormTypes) == 0 {
		config.FormTypes = DefaultFormTypes
	}
	if config.PerForm <= 0 {
		config.PerForm = 2
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultEdgarRequestsPerSecond
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = helper.DiscardLogger()
	}

	return &EdgarSource{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		log:     logger,
	}
}

// Fetch downloads the primary document of every selected filing. A company
// or filing that fails is logged and skipped.
func (s *EdgarSource) Fetch(ctx context.Context) ([]*model.Document, error) {
	var docs []*model.Document
	for _, company := range s.config.Companies {
		s.log.Info("Fetching filings", slog.String("company", company.Name))

		filings, err := s.filings(ctx, company)
		if err != nil {
			if ctx.Err() != nil {
				return docs, helper.NewError("fetch edgar filings", ctx.Err())
			}
			s.log.Warn("Skipping company", slog.String("company", company.Name), slog.Any("error", err))
			continue
		}

		for _, f := range filings {
			doc, err := s.document(ctx, f)
			if err != nil {
				if ctx.Err() != nil {
					return docs, helper.NewError("fetch edgar filings", ctx.Err())
				}
				s.log.Warn("Skipping filing",
					slog.String("company", company.Name),
					slog.String("accession_number", f.accessionNumber),
					slog.Any("error", err),
				)
				continue
			}
			docs = append(docs, doc)
			s.log.Debug("Fetched filing", slog.String("document_id", doc.ID), slog.Int("length", len(doc.Content)))
		}
	}
	return docs, nil
}

// filings reads the company's submissions and selects the most recent
// filings per form type. The recent filings are stored column wise.
func (s *EdgarSource) filings(ctx context.Context, company Company) ([]filing, error) {
	cik := padCIK(company.CIK)
	body, err := s.get(ctx, fmt.Sprintf("%s/submissions/CIK%s.json", s.config.DataURL, cik))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("submissions for CIK %s: invalid json", cik)
	}

	root := gjson.ParseBytes(body)
	if company.Name == "" {
		company.Name = root.Get("name").String()
	}
	recent := root.Get("filings.recent")
	forms := recent.Get("form").Array()
	accessions := recent.Get("accessionNumber").Array()
	dates := recent.Get("filingDate").Array()
	documents := recent.Get("primaryDocument").Array()

	counts := make(map[string]int)
	var selected []filing
	for i, form := range forms {
		if i >= len(accessions) || i >= len(documents) {
			break
		}
		formType := form.String()
		if !s.wantForm(formType) || counts[formType] >= s.config.PerForm {
			continue
		}
		counts[formType]++

		f := filing{
			company:         company,
			form:            formType,
			accessionNumber: accessions[i].String(),
			primaryDocument: documents[i].String(),
		}
		if i < len(dates) {
			f.filingDate = dates[i].String()
		}
		selected = append(selected, f)
	}
	return selected, nil
}

func (s *EdgarSource) document(ctx context.Context, f filing) (*model.Document, error) {
	if f.primaryDocument == "" {
		return nil, fmt.Errorf("filing %s has no primary document", f.accessionNumber)
	}
	body, err := s.get(ctx, s.documentURL(f))
	if err != nil {
		return nil, err
	}

	content := string(body)
	if isHTML(f.primaryDocument) {
		content, err = htmlText(strings.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("extract text of %s: %w", f.primaryDocument, err)
		}
	}

	metadata := model.FilingMetadata{
		CompanyName:     f.company.Name,
		CompanyCIK:      padCIK(f.company.CIK),
		FormType:        f.form,
		FilingDate:      f.filingDate,
		AccessionNumber: f.accessionNumber,
		Extra:           model.Metadata{"primary_document": f.primaryDocument},
	}
	return &model.Document{
		ID:        f.accessionNumber,
		Title:     filingTitle(metadata, f.accessionNumber),
		Content:   content,
		Metadata:  metadata,
		FetchedAt: time.Now(),
	}, nil
}

// documentURL is <archive>/<cik without zeros>/<accession without dashes>/<primary document>.
func (s *EdgarSource) documentURL(f filing) string {
	cik := strings.TrimLeft(f.company.CIK, "0")
	accession := strings.ReplaceAll(f.accessionNumber, "-", "")
	return fmt.Sprintf("%s/%s/%s/%s", s.config.ArchiveURL, cik, accession, f.primaryDocument)
}

func (s *EdgarSource) get(ctx context.Context, url string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *EdgarSource) wantForm(form string) bool {
	for _, f := range s.config.FormTypes {
		if f == form {
			return true
		}
	}
	return false
}

// padCIK formats a CIK with leading zeros to ten digits.
func padCIK(cik string) string {
	n, err := strconv.ParseInt(strings.TrimSpace(cik), 10, 64)
	if err != nil {
		return cik
	}
	return fmt.Sprintf("%010d", n)
}

func isHTML(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".htm") || strings.HasSuffix(lower, ".html")
}
