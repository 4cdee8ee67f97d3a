// Package rewrite turns raw client queries into index-ready query and
// filter strings plus a human-readable display form. It resolves query
// context references, taxon shorthands and spatial constraints, and
// escapes index-reserved characters.
package rewrite

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/domain"
)

var (
	matchedNamePattern = regexp.MustCompile(`matched_name(_children)?:(?:"([^"]*)"|([^\s)]+))`)
	taxaPattern        = regexp.MustCompile(`taxa:(?:"([^"]*)"|([^\s)]+))`)
	taxonIDPattern     = regexp.MustCompile(`(^|[\s(-])lsid:(?:"([^"]*)"|([^\s)]+))`)
	urnPattern         = regexp.MustCompile(`urn:[a-zA-Z0-9.\-_:]+`)
	urlPattern         = regexp.MustCompile(`https?://[^\s")]+`)
	termPattern        = regexp.MustCompile(`(-?)([a-zA-Z][a-zA-Z0-9_.*]*):("(?:[^"\\]|\\.)*"|\[[^\]]*\]|[^\s)]+)`)
)

// Options tunes the rewriter.
type Options struct {
	// SpatialField is the indexed geometry field (default "geohash").
	SpatialField string
	// CircleSegments is the polygon vertex count used to approximate
	// lat/lon/radius circles (default 36).
	CircleSegments int
}

// Rewriter rewrites search specs. All collaborators may be nil; the
// corresponding passes then degrade to identity.
type Rewriter struct {
	qids           QidResolver
	names          NameResolver
	labels         LabelResolver
	log            *zap.Logger
	spatialField   string
	circleSegments int
}

// NewRewriter creates a rewriter.
func NewRewriter(qids QidResolver, names NameResolver, labels LabelResolver, opts Options, log *zap.Logger) *Rewriter {
	if opts.SpatialField == "" {
		opts.SpatialField = "geohash"
	}
	if opts.CircleSegments <= 0 {
		opts.CircleSegments = 36
	}
	return &Rewriter{
		qids:           qids,
		names:          names,
		labels:         labels,
		log:            log,
		spatialField:   opts.SpatialField,
		circleSegments: opts.CircleSegments,
	}
}

// Rewrite produces the index-ready form of a search spec. Rewriting is
// idempotent for specs that carry no query-context reference.
func (r *Rewriter) Rewrite(ctx context.Context, spec *domain.SearchSpec) (domain.RewrittenQuery, error) {
	var out domain.RewrittenQuery

	q := strings.TrimSpace(spec.Q)
	if q == "" {
		q = "*:*"
	}

	geometry := spec.WKT
	spatialDisplay := ""
	if geometry != "" {
		spatialDisplay = describeGeometry(geometry)
	} else if spec.HasCircle {
		geometry = CircleWKT(spec.Lat, spec.Lon, spec.RadiusKm, r.circleSegments)
		spatialDisplay = describeCircle(spec.Lat, spec.Lon, spec.RadiusKm)
	}

	fqs := append([]string(nil), spec.Fq...)

	// A query-context reference short-circuits the term passes: the
	// stored query text is already index-ready.
	if r.qids != nil {
		entry, err := r.qids.GetFromQueryText(ctx, q)
		if err != nil {
			return out, err
		}
		if entry != nil {
			out.QidRef = entry.Key
			q = entry.Q
			fqs = append(fqs, entry.Fqs...)
			if geometry == "" && entry.WKT != "" {
				geometry = entry.WKT
				spatialDisplay = describeGeometry(geometry)
			}

			display := entry.DisplayQ
			if display == "" {
				display = q
			}
			if q == "*:*" {
				display = "[all records]"
			}

			out.Query = q
			out.Display = joinDisplay(display, spatialDisplay)
			out.Filters = r.formatFilters(fqs)
			if geometry != "" {
				out.Filters = append(out.Filters, spatialFilter(r.spatialField, geometry))
			}
			return out, nil
		}
	}

	query, display := r.formatQuery(ctx, q)
	out.Query = query
	out.Display = joinDisplay(display, spatialDisplay)
	out.Filters = r.formatFilters(fqs)
	if geometry != "" {
		out.Filters = append(out.Filters, spatialFilter(r.spatialField, geometry))
	}
	return out, nil
}

// formatQuery runs the term passes in order and returns the query and
// display strings.
func (r *Rewriter) formatQuery(ctx context.Context, q string) (string, string) {
	// Embedded spatial query: rewrite the wrapped remainder on its own,
	// then reattach the geometry clause.
	if prefix, rest, ok := splitSpatial(q, r.spatialField); ok {
		if rest == "" {
			return q, "[spatial search]"
		}
		restQuery, restDisplay := r.formatQuery(ctx, rest)
		return prefix + " AND " + restQuery, "[spatial search] AND " + restDisplay
	}

	query := q
	query = r.rewriteMatchedNames(ctx, query)
	query = r.expandTaxa(ctx, query)
	query, display := r.expandTaxonIDs(ctx, query)
	query = quotePrefixedTokens(query, urnPattern)
	query = quotePrefixedTokens(query, urlPattern)
	query = escapeTerms(query)

	if display == "" {
		display = query
	}
	if query == "*:*" {
		display = "[all records]"
	}
	display = r.labelDisplay(display)
	return query, display
}

// rewriteMatchedNames resolves matched_name and matched_name_children
// terms to taxon identifier queries, falling back to plain name terms.
func (r *Rewriter) rewriteMatchedNames(ctx context.Context, q string) string {
	return replaceAllSubmatch(matchedNamePattern, q, func(m []string) string {
		children := m[1] != ""
		name := m[2]
		if name == "" {
			name = m[3]
		}
		if r.names != nil {
			guid, err := r.names.GuidForName(ctx, name)
			if err != nil {
				r.log.Warn("name lookup failed", zap.String("name", name), zap.Error(err))
			} else if guid != "" {
				if children {
					return `lsid:"` + guid + `"`
				}
				return `taxon_concept_lsid:"` + guid + `"`
			}
		}
		return `taxon_name:"` + name + `"`
	})
}

// expandTaxa resolves taxa terms (one name or a comma-separated quoted
// list) to a disjunction of taxon identifier queries.
func (r *Rewriter) expandTaxa(ctx context.Context, q string) string {
	return replaceAllSubmatch(taxaPattern, q, func(m []string) string {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		names := splitNames(raw)
		if r.names != nil && len(names) > 0 {
			guids, err := r.names.GuidsForTaxa(ctx, names)
			if err != nil {
				r.log.Warn("taxa lookup failed", zap.Strings("names", names), zap.Error(err))
			} else {
				var parts []string
				for i, g := range guids {
					if g != "" {
						parts = append(parts, `lsid:"`+g+`"`)
					} else if i < len(names) {
						parts = append(parts, `text:"`+names[i]+`"`)
					}
				}
				if len(parts) == 1 {
					return parts[0]
				}
				if len(parts) > 0 {
					return "(" + strings.Join(parts, " OR ") + ")"
				}
			}
		}
		return `text:"` + raw + `"`
	})
}

// expandTaxonIDs rewrites lsid terms to hierarchy-range queries covering
// the taxon and its descendants, and substitutes the taxon label into
// the display string.
func (r *Rewriter) expandTaxonIDs(ctx context.Context, q string) (string, string) {
	resolved := false
	query := replaceAllSubmatch(taxonIDPattern, q, func(m []string) string {
		id := m[2]
		if id == "" {
			id = m[3]
		}
		if r.names != nil {
			rangeQ, _, err := r.names.TaxonRange(ctx, id)
			if err != nil {
				r.log.Warn("taxon range lookup failed", zap.String("id", id), zap.Error(err))
			} else if rangeQ != "" {
				resolved = true
				return m[1] + "(" + rangeQ + ")"
			}
		}
		return m[1] + `taxon_concept_lsid:"` + id + `"`
	})
	if !resolved {
		return query, ""
	}
	display := replaceAllSubmatch(taxonIDPattern, q, func(m []string) string {
		id := m[2]
		if id == "" {
			id = m[3]
		}
		_, label, err := r.names.TaxonRange(ctx, id)
		if err == nil && label != "" {
			return m[1] + label
		}
		return m[0]
	})
	return query, display
}

// labelDisplay substitutes field and value labels into the display
// string.
func (r *Rewriter) labelDisplay(display string) string {
	if r.labels == nil {
		return display
	}
	return replaceAllSubmatch(termPattern, display, func(m []string) string {
		neg, field, value := m[1], m[2], m[3]
		label := r.labels.FieldLabel(field)
		if quoted := strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) && len(value) >= 2; quoted {
			inner := value[1 : len(value)-1]
			value = `"` + r.labels.ValueLabel(field, inner) + `"`
		}
		return neg + label + ":" + value
	})
}

// formatFilters rewrites filter queries: simple field:value filters get
// their value escaped, anything already structured (quoted values,
// ranges, boolean expressions) passes through unchanged.
func (r *Rewriter) formatFilters(fqs []string) []string {
	var out []string
	for _, fq := range fqs {
		fq = strings.TrimSpace(fq)
		if fq == "" {
			continue
		}
		out = append(out, formatFilter(fq))
	}
	return out
}

func formatFilter(fq string) string {
	if strings.ContainsAny(fq, "()") || strings.Contains(fq, " OR ") || strings.Contains(fq, " AND ") {
		return fq
	}
	field, value, ok := strings.Cut(fq, ":")
	if !ok {
		return fq
	}
	if needsEscaping(value) {
		return field + ":" + Escape(value)
	}
	return fq
}

// escapeTerms escapes reserved characters inside unquoted term values.
func escapeTerms(q string) string {
	if q == "*:*" {
		return q
	}
	return replaceAllSubmatch(termPattern, q, func(m []string) string {
		neg, field, value := m[1], m[2], m[3]
		if needsEscaping(value) {
			value = Escape(value)
		}
		return neg + field + ":" + value
	})
}

// quotePrefixedTokens wraps bare identifier tokens (URNs, URLs) in
// quotes so their colons and slashes survive parsing. Tokens already
// inside quotes are left alone.
func quotePrefixedTokens(q string, pattern *regexp.Regexp) string {
	locs := pattern.FindAllStringIndex(q, -1)
	if locs == nil {
		return q
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		quoted := (start > 0 && q[start-1] == '"') || (start > 0 && q[start-1] == '\\')
		// skip the scheme part of a term like catalogue_number:urn...
		// only when the preceding char binds it into a field value
		b.WriteString(q[last:start])
		if quoted {
			b.WriteString(q[start:end])
		} else {
			b.WriteString(`"` + q[start:end] + `"`)
		}
		last = end
	}
	b.WriteString(q[last:])
	return b.String()
}

// splitSpatial detects a query of the form
//
//	<field>:"Intersects(<geometry>)" AND <rest>
//
// and returns the spatial clause and the remainder.
func splitSpatial(q, field string) (clause, rest string, ok bool) {
	prefix := field + `:"Intersects(`
	if !strings.HasPrefix(q, prefix) {
		return "", "", false
	}
	depth := 0
	for i := len(prefix) - 1; i < len(q); i++ {
		switch q[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end := i + 1
				if end < len(q) && q[end] == '"' {
					end++
				}
				clause = q[:end]
				rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(q[end:]), "AND"))
				return clause, rest, true
			}
		}
	}
	return "", "", false
}

// replaceAllSubmatch is ReplaceAllStringFunc with submatches available
// to the replacement callback.
func replaceAllSubmatch(re *regexp.Regexp, s string, repl func([]string) string) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s
	}
	var b strings.Builder
	last := 0
	for _, idx := range matches {
		groups := make([]string, len(idx)/2)
		for g := 0; g < len(idx)/2; g++ {
			if idx[2*g] >= 0 {
				groups[g] = s[idx[2*g]:idx[2*g+1]]
			}
		}
		b.WriteString(s[last:idx[0]])
		b.WriteString(repl(groups))
		last = idx[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func splitNames(raw string) []string {
	parts := strings.Split(raw, ",")
	var names []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

func joinDisplay(display, spatial string) string {
	if spatial == "" {
		return display
	}
	if display == "" || display == "[all records]" {
		return spatial
	}
	return display + " " + spatial
}
