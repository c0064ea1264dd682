package selector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pevans/newsagg/logger"
)

// HardCase names a selector fragment that is known to be unreliable on the
// site it targets. When a selector containing Marker matches nothing, the
// Fallbacks are tried in order and the first non-empty result wins.
type HardCase struct {
	Marker    string
	Fallbacks []string
}

// DefaultHardCases returns the built-in hard cases.
func DefaultHardCases() []HardCase {
	return []HardCase{
		{
			Marker: ".ai_ml",
			Fallbacks: []string{
				"article",
				".article",
				`div[class*="story"]`,
				`div[class*="teaser"]`,
				`div[class*="item"]`,
			},
		},
	}
}

// Resolver evaluates selector strings against goquery selections.
type Resolver struct {
	hardCases []HardCase
	log       logger.Logger
}

// NewResolver creates a resolver. A nil hardCases slice means
// DefaultHardCases.
func NewResolver(log logger.Logger, hardCases []HardCase) *Resolver {
	if hardCases == nil {
		hardCases = DefaultHardCases()
	}
	return &Resolver{
		hardCases: hardCases,
		log:       logger.OrNop(log),
	}
}

// Resolve returns the descendants of root matching raw, in document order.
// It never fails: an invalid selector yields an empty selection.
func (r *Resolver) Resolve(root *goquery.Selection, raw string) *goquery.Selection {
	result := r.match(root, Parse(raw))
	if result.Length() > 0 {
		return result
	}

	for _, hc := range r.hardCases {
		if hc.Marker == "" || !strings.Contains(raw, hc.Marker) {
			continue
		}
		for _, fallback := range hc.Fallbacks {
			if fb := r.match(root, Parse(fallback)); fb.Length() > 0 {
				r.log.Debug("Selector fallback matched",
					logger.String("selector", raw),
					logger.String("fallback", fallback),
				)
				return fb
			}
		}
	}

	return result
}

// ResolveAny tries each selector in order and returns the first non-empty
// result, or an empty selection.
func (r *Resolver) ResolveAny(root *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, raw := range selectors {
		if raw == "" {
			continue
		}
		if result := r.Resolve(root, raw); result.Length() > 0 {
			return result
		}
	}
	return empty(root)
}

func (r *Resolver) match(root *goquery.Selection, sel Selector) (result *goquery.Selection) {
	if sel.err != nil {
		r.log.Debug("Invalid selector",
			logger.String("selector", sel.Raw),
			logger.Error(sel.err),
		)
		return empty(root)
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("Selector evaluation failed",
				logger.String("selector", sel.Raw),
				logger.Error(fmt.Errorf("%v", p)),
			)
			result = empty(root)
		}
	}()

	found := root.FindMatcher(sel.matcher)
	if sel.Kind == Plain {
		return found
	}

	return found.FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, ok := s.Attr("class")
		return ok && sel.MatchClass(class)
	})
}

func empty(root *goquery.Selection) *goquery.Selection {
	return root.Slice(0, 0)
}
