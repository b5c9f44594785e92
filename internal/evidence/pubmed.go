package evidence

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yoockh/casescribe/internal/providers"
)

const DefaultPubMedURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

type PubMedConfig struct {
	BaseURL      string
	APIKey       string
	Tool         string
	Email        string
	RetMax       int
	RecencyYears int
	Timeout      time.Duration
}

// Article is one parsed citation record before inclusion rules run.
type Article struct {
	PMID             string
	Title            string
	Abstract         string
	Journal          string
	Year             int
	Authors          []string
	PublicationTypes []string
}

// PubMed is a client for the NCBI E-utilities esearch/efetch pair.
type PubMed struct {
	cfg    PubMedConfig
	client *providers.HTTPClient
}

func NewPubMed(cfg PubMedConfig) *PubMed {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPubMedURL
	}
	if cfg.RetMax <= 0 {
		cfg.RetMax = 5
	}
	if cfg.RecencyYears <= 0 {
		cfg.RecencyYears = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	// E-utilities allow 3 req/s without a key and 10 with one.
	perMinute := 180
	if cfg.APIKey != "" {
		perMinute = 600
	}
	return &PubMed{
		cfg:    cfg,
		client: providers.NewHTTPClient(providers.PubMed, cfg.BaseURL, "", cfg.Timeout, perMinute),
	}
}

func (p *PubMed) params() url.Values {
	v := url.Values{}
	v.Set("db", "pubmed")
	if p.cfg.APIKey != "" {
		v.Set("api_key", p.cfg.APIKey)
	}
	if p.cfg.Tool != "" {
		v.Set("tool", p.cfg.Tool)
	}
	if p.cfg.Email != "" {
		v.Set("email", p.cfg.Email)
	}
	return v
}

// Search runs expression restricted to the recency window and returns the
// fetched records in relevance order.
func (p *PubMed) Search(ctx context.Context, expression string) ([]Article, error) {
	ids, err := p.esearch(ctx, expression)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return p.efetch(ctx, ids)
}

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

func (p *PubMed) esearch(ctx context.Context, expression string) ([]string, error) {
	v := p.params()
	v.Set("term", expression)
	v.Set("retmode", "json")
	v.Set("retmax", strconv.Itoa(p.cfg.RetMax))
	v.Set("sort", "relevance")
	v.Set("datetype", "pdat")
	v.Set("reldate", strconv.Itoa(p.cfg.RecencyYears*365))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.client.URL("esearch.fcgi")+"?"+v.Encode(), nil)
	if err != nil {
		return nil, providers.Fatal(providers.PubMed, 0, err)
	}
	body, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	var out esearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, providers.Transient(providers.PubMed, http.StatusOK, fmt.Errorf("decode esearch: %w", err))
	}
	return out.Result.IDList, nil
}

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type markup struct {
	Inner string `xml:",innerxml"`
}

type abstractSection struct {
	Label string `xml:"Label,attr"`
	Inner string `xml:",innerxml"`
}

type pubmedAuthor struct {
	LastName       string `xml:"LastName"`
	CollectiveName string `xml:"CollectiveName"`
}

type pubmedArticle struct {
	PMID        string            `xml:"MedlineCitation>PMID"`
	Title       markup            `xml:"MedlineCitation>Article>ArticleTitle"`
	Abstract    []abstractSection `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	Authors     []pubmedAuthor    `xml:"MedlineCitation>Article>AuthorList>Author"`
	Journal     string            `xml:"MedlineCitation>Article>Journal>Title"`
	Year        string            `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Year"`
	MedlineDate string            `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>MedlineDate"`
	PubTypes    []string          `xml:"MedlineCitation>Article>PublicationTypeList>PublicationType"`
}

func (p *PubMed) efetch(ctx context.Context, ids []string) ([]Article, error) {
	v := p.params()
	v.Set("id", strings.Join(ids, ","))
	v.Set("retmode", "xml")
	v.Set("rettype", "abstract")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.client.URL("efetch.fcgi")+"?"+v.Encode(), nil)
	if err != nil {
		return nil, providers.Fatal(providers.PubMed, 0, err)
	}
	body, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return parseArticles(body)
}

func parseArticles(body []byte) ([]Article, error) {
	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, providers.Transient(providers.PubMed, http.StatusOK, fmt.Errorf("decode efetch: %w", err))
	}

	out := make([]Article, 0, len(set.Articles))
	for _, a := range set.Articles {
		art := Article{
			PMID:             strings.TrimSpace(a.PMID),
			Title:            cleanMarkup(a.Title.Inner),
			Journal:          strings.TrimSpace(a.Journal),
			Year:             parseYear(a.Year, a.MedlineDate),
			PublicationTypes: a.PubTypes,
		}
		var sections []string
		for _, s := range a.Abstract {
			text := cleanMarkup(s.Inner)
			if text == "" {
				continue
			}
			if s.Label != "" {
				text = s.Label + ": " + text
			}
			sections = append(sections, text)
		}
		art.Abstract = strings.Join(sections, " ")
		for _, au := range a.Authors {
			switch {
			case au.LastName != "":
				art.Authors = append(art.Authors, au.LastName)
			case au.CollectiveName != "":
				art.Authors = append(art.Authors, au.CollectiveName)
			}
		}
		out = append(out, art)
	}
	return out, nil
}

var (
	tagPattern  = regexp.MustCompile(`<[^>]+>`)
	yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	spaceRun    = regexp.MustCompile(`\s+`)
)

func cleanMarkup(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func parseYear(year, medlineDate string) int {
	if y, err := strconv.Atoi(strings.TrimSpace(year)); err == nil {
		return y
	}
	if m := yearPattern.FindString(medlineDate); m != "" {
		y, _ := strconv.Atoi(m)
		return y
	}
	return 0
}
