package evidence

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/yoockh/casescribe/internal/cache"
	"github.com/yoockh/casescribe/internal/metrics"
	"github.com/yoockh/casescribe/internal/pipeline"
	"github.com/yoockh/casescribe/internal/providers"
	"github.com/yoockh/casescribe/internal/utils"
)

// Index is the literature search collaborator.
type Index interface {
	Search(ctx context.Context, expression string) ([]Article, error)
}

// Generator is the generation capability used for query expansion and the
// null-evidence report.
type Generator interface {
	Complete(ctx context.Context, p pipeline.Prompt) (*pipeline.Result, error)
}

type Config struct {
	MinAbstractLen int
	CacheTTL       time.Duration
	MaxTries       uint
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RecencyYears   int
}

func DefaultConfig() Config {
	return Config{
		MinAbstractLen: 200,
		CacheTTL:       24 * time.Hour,
		MaxTries:       3,
		BackoffBase:    time.Second,
		BackoffMax:     8 * time.Second,
		RecencyYears:   5,
	}
}

// Item is a citation that passed the inclusion rules.
type Item struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Year     int    `json:"year"`
	Citation string `json:"citation"`
	Journal  string `json:"journal,omitempty"`
	URL      string `json:"url"`
}

// Result is a search outcome. Null is set when no citation survived; callers
// must then attach an explanation via ExplainNull instead of showing an
// empty list.
type Result struct {
	Query      string         `json:"query"`
	Expression string         `json:"expression"`
	Items      []Item         `json:"items"`
	Null       bool           `json:"null"`
	Excluded   map[string]int `json:"excluded,omitempty"`
	IndexError string         `json:"index_error,omitempty"`
	Cached     bool           `json:"cached"`
	Report     *NullReport    `json:"null_report,omitempty"`
}

type Service struct {
	cfg     Config
	gen     Generator
	index   Index
	cache   cache.Cache
	log     *logrus.Logger
	metrics *metrics.Metrics
}

func NewService(cfg Config, gen Generator, index Index, c cache.Cache, log *logrus.Logger, m *metrics.Metrics) *Service {
	def := DefaultConfig()
	if cfg.MinAbstractLen <= 0 {
		cfg.MinAbstractLen = def.MinAbstractLen
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = def.MaxTries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.RecencyYears <= 0 {
		cfg.RecencyYears = def.RecencyYears
	}
	if log == nil {
		log = logrus.New()
	}
	return &Service{cfg: cfg, gen: gen, index: index, cache: c, log: log, metrics: m}
}

func cacheKey(query string) string {
	sum := blake2b.Sum256([]byte(query))
	return "evidence:" + hex.EncodeToString(sum[:])
}

func (s *Service) Search(ctx context.Context, query string) (*Result, error) {
	const op = "EvidenceService.Search"

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}
	key := cacheKey(query)
	log := s.log.WithFields(logrus.Fields{"op": op, "cache_key": key})

	if s.cache != nil && s.cfg.CacheTTL > 0 {
		var cached Result
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			cached.Cached = true
			return &cached, nil
		}
	}

	expr := s.expand(ctx, query)
	res := &Result{Query: query, Expression: expr, Items: []Item{}}

	articles, err := s.fetch(ctx, expr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, utils.E(utils.CodeTimeout, op, "search cancelled", ctx.Err())
		}
		log.WithError(err).WithField("expression", expr).Warn("literature index failed after retries")
		res.IndexError = err.Error()
	}

	res.Items, res.Excluded = Filter(articles, s.cfg.MinAbstractLen)
	res.Null = len(res.Items) == 0
	s.metrics.Evidence(len(res.Items), res.Null)

	// null outcomes are not cached so the next request searches again
	if !res.Null && s.cache != nil && s.cfg.CacheTTL > 0 {
		if err := s.cache.SetJSON(ctx, key, res, s.cfg.CacheTTL); err != nil {
			log.WithError(err).Warn("evidence cache write failed")
		}
	}
	return res, nil
}

func (s *Service) fetch(ctx context.Context, expr string) ([]Article, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BackoffBase
	b.MaxInterval = s.cfg.BackoffMax
	b.Multiplier = 2

	return backoff.Retry(ctx, func() ([]Article, error) {
		arts, err := s.index.Search(ctx, expr)
		if err == nil {
			return arts, nil
		}
		if providers.Classify(err) == providers.ClassFatal {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.MaxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.log.WithError(err).WithField("retry_in", d.String()).Warn("literature search retry")
		}),
	)
}

const expandSystem = `You turn clinical case descriptions into PubMed search expressions.
Reply with ONE line containing only the boolean expression in English.
Use MeSH terms and AND/OR/NOT operators. Prefer pediatric terms when the patient is a child.
Do not add explanations, labels or surrounding quotes.`

// expand asks the fast model for a boolean expression and falls back to the
// raw query when generation fails or returns nothing usable.
func (s *Service) expand(ctx context.Context, query string) string {
	if s.gen == nil || isBoolean(query) {
		return query
	}
	res, err := s.gen.Complete(ctx, pipeline.Prompt{
		System:    expandSystem,
		User:      query,
		Model:     pipeline.ModelFast,
		MaxTokens: 200,
	})
	if err != nil {
		s.log.WithError(err).Warn("query expansion failed, using raw query")
		return query
	}
	if expr := sanitizeExpression(res.Text); expr != "" {
		return expr
	}
	return query
}

func isBoolean(q string) bool {
	return strings.Contains(q, " AND ") || strings.Contains(q, " OR ")
}

// sanitizeExpression keeps the first line, strips wrapping quotes and labels
// and drops tokens containing non-ASCII letters.
func sanitizeExpression(s string) string {
	s = strings.TrimSpace(s)
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			s = line
			break
		}
	}
	for _, prefix := range []string{"Query:", "Expression:", "Search:"} {
		if strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix)) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}
	s = strings.Trim(s, "`'\" ")

	var kept []string
	for _, tok := range strings.Fields(s) {
		if asciiOnly(tok) {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

func asciiOnly(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// Exclusion reasons reported in Result.Excluded.
const (
	ExcludedNoAbstract    = "no_abstract"
	ExcludedShortAbstract = "short_abstract"
	ExcludedEditorial     = "editorial"
)

// Filter applies the inclusion rules and returns surviving items plus a
// count of exclusions per reason. Abstract length is counted in characters.
func Filter(articles []Article, minAbstract int) ([]Item, map[string]int) {
	items := make([]Item, 0, len(articles))
	excluded := map[string]int{}
	for _, a := range articles {
		abstract := strings.TrimSpace(a.Abstract)
		switch {
		case abstract == "":
			excluded[ExcludedNoAbstract]++
			continue
		case utf8.RuneCountInString(abstract) < minAbstract:
			excluded[ExcludedShortAbstract]++
			continue
		case isEditorial(a.PublicationTypes):
			excluded[ExcludedEditorial]++
			continue
		}
		items = append(items, Item{
			ID:       a.PMID,
			Title:    a.Title,
			Abstract: abstract,
			Year:     a.Year,
			Citation: Citation(a),
			Journal:  a.Journal,
			URL:      "https://pubmed.ncbi.nlm.nih.gov/" + a.PMID + "/",
		})
	}
	if len(excluded) == 0 {
		excluded = nil
	}
	return items, excluded
}

func isEditorial(types []string) bool {
	for _, t := range types {
		if strings.EqualFold(strings.TrimSpace(t), "Editorial") {
			return true
		}
	}
	return false
}

// Citation formats "<FirstAuthor> et al. (<year>)".
func Citation(a Article) string {
	year := "n.d."
	if a.Year > 0 {
		year = fmt.Sprint(a.Year)
	}
	switch len(a.Authors) {
	case 0:
		return fmt.Sprintf("PMID %s (%s)", a.PMID, year)
	case 1:
		return fmt.Sprintf("%s (%s)", a.Authors[0], year)
	default:
		return fmt.Sprintf("%s et al. (%s)", a.Authors[0], year)
	}
}
