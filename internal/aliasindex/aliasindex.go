// Package aliasindex implements the durable mapping from external
// identifiers (DOI, ArXiv, Corpus id, MAG, ACL, PubMed, URL, normalized
// title) to canonical paper ids, together with the kind-specific
// normalization rules that make those mappings stable.
package aliasindex

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/models"
)

// Index is the Alias Index contract consumed by the Paper Resolver.
type Index interface {
	// Resolve normalizes raw by its detected kind and returns the paper id
	// it maps to, or scerrors ErrorTypeNotFound if no alias is recorded.
	Resolve(ctx context.Context, raw string) (kind models.AliasKind, normalized, paperID string, err error)
	// Normalize classifies and normalizes raw without performing a lookup,
	// used by callers that must compute an alias key before the target
	// paper id is known (e.g. while recording a freshly fetched paper).
	Normalize(raw string) (kind models.AliasKind, normalized string, err error)
	// Record associates every given alias with paperID. If an alias is
	// already recorded against a different paper id, that existing mapping
	// is left untouched and the alias is skipped, with an AliasConflict
	// appended to the returned slice rather than returning early — record
	// is best-effort across the whole batch.
	Record(ctx context.Context, paperID string, aliases []Candidate) ([]Conflict, error)
	// AliasesOf returns every alias recorded against paperID.
	AliasesOf(ctx context.Context, paperID string) ([]models.Alias, error)
}

// Candidate is an alias pending association with a paper id, typically
// derived from Upstream's external-ids map or a client-supplied raw
// reference.
type Candidate struct {
	Kind            models.AliasKind
	NormalizedValue string
}

// Conflict records an alias whose existing mapping disagreed with the one
// Record was asked to establish.
type Conflict struct {
	Kind            models.AliasKind
	NormalizedValue string
	ExistingPaperID string
}

type gormIndex struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates an Alias Index backed by db.
func New(db *gorm.DB, logger *slog.Logger) Index {
	return &gormIndex{db: db, logger: logger}
}

func (idx *gormIndex) Resolve(ctx context.Context, raw string) (models.AliasKind, string, string, error) {
	if IsCanonicalID(raw) {
		return "", raw, raw, nil
	}
	kind, normalized, err := idx.Normalize(raw)
	if err != nil {
		return "", "", "", err
	}
	var alias models.Alias
	err = idx.db.WithContext(ctx).
		Where("kind = ? AND normalized_value = ?", kind, normalized).
		First(&alias).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return kind, normalized, "", scerrors.NewNotFoundError("alias", normalized)
		}
		return "", "", "", scerrors.NewDatabaseError("resolve_alias", err)
	}
	return kind, normalized, alias.PaperID, nil
}

func (idx *gormIndex) Record(ctx context.Context, paperID string, aliases []Candidate) ([]Conflict, error) {
	var conflicts []Conflict
	err := idx.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range aliases {
			var existing models.Alias
			err := tx.Where("kind = ? AND normalized_value = ?", c.Kind, c.NormalizedValue).
				First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&models.Alias{
					Kind:            c.Kind,
					NormalizedValue: c.NormalizedValue,
					PaperID:         paperID,
				}).Error; err != nil && !scerrors.IsDuplicateKeyError(err) {
					return scerrors.NewDatabaseError("record_alias", err)
				}
			case err != nil:
				return scerrors.NewDatabaseError("record_alias", err)
			case existing.PaperID != paperID:
				conflicts = append(conflicts, Conflict{
					Kind:            c.Kind,
					NormalizedValue: c.NormalizedValue,
					ExistingPaperID: existing.PaperID,
				})
				idx.logger.Warn("alias conflict during record",
					slog.String("kind", string(c.Kind)),
					slog.String("normalized_value", c.NormalizedValue),
					slog.String("existing_paper_id", existing.PaperID),
					slog.String("attempted_paper_id", paperID))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

func (idx *gormIndex) AliasesOf(ctx context.Context, paperID string) ([]models.Alias, error) {
	var aliases []models.Alias
	err := idx.db.WithContext(ctx).Where("paper_id = ?", paperID).Find(&aliases).Error
	if err != nil {
		return nil, scerrors.NewDatabaseError("aliases_of", err)
	}
	return aliases, nil
}

var (
	hexPattern    = regexp.MustCompile(`^[0-9a-f]{40}$`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	nonAlnum      = regexp.MustCompile(`[^\p{L}\p{N} ]+`)
	arxivVersion  = regexp.MustCompile(`v\d+$`)
)

// IsCanonicalID reports whether raw is a bare canonical paper id — the
// 40-hex convention Upstream uses. Such refs bypass the Alias Index
// entirely.
func IsCanonicalID(raw string) bool {
	return hexPattern.MatchString(raw)
}

// Normalize classifies raw into one of the recognized alias kinds and
// applies that kind's normalization rule. It never performs I/O.
//
// Parsing is strict: a reference either is a bare 40-hex canonical id
// (rejected here — the caller short-circuits those before any alias
// lookup) or carries one of the recognized prefixes. Anything else is a
// BadRequest, matching Upstream's own id grammar. Title-only lookups are
// deliberately refused: TITLE_NORM aliases are recorded from fetched
// papers but normalized titles collide across unrelated papers, so they
// never serve as a client-supplied lookup key.
func (idx *gormIndex) Normalize(raw string) (models.AliasKind, string, error) {
	return classify(raw)
}

var prefixKinds = []struct {
	prefix string
	kind   models.AliasKind
}{
	{"DOI:", models.AliasKindDOI},
	{"ARXIV:", models.AliasKindArXiv},
	{"CORPUS_ID:", models.AliasKindCorpusID},
	{"CORPUSID:", models.AliasKindCorpusID},
	{"MAG:", models.AliasKindMAG},
	{"ACL:", models.AliasKindACL},
	{"PMID:", models.AliasKindPMID},
	{"PMCID:", models.AliasKindPMCID},
	{"URL:", models.AliasKindURL},
}

func classify(raw string) (models.AliasKind, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", scerrors.NewValidationError("empty reference", "ref", raw)
	}

	for _, pk := range prefixKinds {
		v, ok := stripPrefix(trimmed, pk.prefix)
		if !ok {
			continue
		}
		normalized, err := NormalizeValue(pk.kind, v)
		if err != nil {
			return "", "", err
		}
		return pk.kind, normalized, nil
	}

	return "", "", scerrors.NewValidationError(
		"unrecognized reference: expected a 40-hex paper id or a prefixed alias (DOI:, ARXIV:, CORPUS_ID:, MAG:, ACL:, PMID:, PMCID:, URL:)",
		"ref", raw)
}

func stripPrefix(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

// NormalizeValue applies the kind-specific normalization rule to a raw
// alias value. Rules are stable: the same input always produces the same
// stored key.
func NormalizeValue(kind models.AliasKind, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", scerrors.NewValidationError("empty alias value", "ref", v)
	}
	switch kind {
	case models.AliasKindDOI:
		return normalizeDOI(v), nil
	case models.AliasKindArXiv:
		return normalizeArXiv(v), nil
	case models.AliasKindCorpusID, models.AliasKindMAG, models.AliasKindPMID:
		return strings.TrimLeft(v, "0"), nil
	case models.AliasKindACL:
		return strings.ToUpper(v), nil
	case models.AliasKindPMCID:
		return normalizePMCID(v), nil
	case models.AliasKindURL:
		return normalizeURL(v), nil
	case models.AliasKindTitleNorm:
		return NormalizeTitle(v), nil
	default:
		return "", scerrors.NewValidationError("unknown alias kind", "kind", string(kind))
	}
}

func normalizeDOI(v string) string {
	v = whitespaceRun.ReplaceAllString(v, "")
	v = strings.ToLower(v)
	v = strings.TrimPrefix(v, "https://doi.org/")
	v = strings.TrimPrefix(v, "http://doi.org/")
	v = strings.TrimPrefix(v, "doi:")
	return v
}

func normalizeArXiv(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "arXiv:")
	return arxivVersion.ReplaceAllString(v, "")
}

func normalizePMCID(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if !strings.HasPrefix(v, "PMC") {
		v = "PMC" + v
	}
	return v
}

// normalizeURL lowercases the host, strips any trailing slash, and drops
// utm_* tracking parameters; everything else (path case, remaining query)
// is preserved as given.
func normalizeURL(v string) string {
	v = strings.TrimSpace(v)
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(v), "/")
	}
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Path = strings.TrimSuffix(u.Path, "/")
	q := u.Query()
	for param := range q {
		if strings.HasPrefix(strings.ToLower(param), "utm_") {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NormalizeTitle implements the TITLE_NORM rule: NFKC-fold, lowercase,
// strip punctuation and all whitespace. Used when recording a fetched
// paper's title as a best-effort alias; never accepted as a lookup key.
func NormalizeTitle(v string) string {
	v = norm.NFKC.String(v)
	v = strings.ToLower(strings.TrimSpace(v))
	v = nonAlnum.ReplaceAllString(v, "")
	v = whitespaceRun.ReplaceAllString(v, "")
	return v
}
