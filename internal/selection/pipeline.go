// Package selection builds the day's watchlist: ask the earnings
// screener for today's universe, ask each AI advisor for candidate
// tickers across several independent passes, and keep only the symbols
// every advisor agreed on. A per-day cache lets a restart within the
// same day skip both the screener and the advisors entirely. Grounded
// on original_source/common/helpers/ai_consensus_helpers.py's
// get_ai_suggestions/find_consensus (parallel per-source calls, union
// within a source, intersection across sources) and on the teacher's
// goroutine fan-out style, using golang.org/x/sync/errgroup only to wait
// for the per-advisor goroutines, none of which returns an error.
package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sessiontrader/earnings-session-trader/internal/model"
)

// ScreenerFilter narrows the earnings universe a Screener returns. Day
// is the session date the pipeline is selecting a watchlist for.
type ScreenerFilter struct {
	Day time.Time
}

// Screener returns today's full earnings-report candidate universe. A
// concrete adapter (such as FinvizScreener) owns whatever pagination or
// HTML/API walk is needed to assemble that list; List itself always
// returns the complete, de-paginated result.
type Screener interface {
	List(ctx context.Context, filter ScreenerFilter) ([]model.Symbol, error)
}

// Advisor is one AI ticker-suggestion source. Recommend is called once
// per scan pass with the same prompt text sent to every advisor, and
// returns its raw free-form response, which the pipeline parses with
// the ticker-extraction ladder. No streaming contract is exposed.
type Advisor interface {
	Name() string
	Recommend(ctx context.Context, prompt string) (string, error)
}

// Cache is the subset of tickercache.Cache the pipeline depends on.
type Cache interface {
	Save(symbols []string, date time.Time) error
	Load(date time.Time) ([]string, bool)
}

// Pipeline composes a screener, a set of advisors, and a cache into the
// day's consensus watchlist.
type Pipeline struct {
	Screener       Screener
	Advisors       []Advisor
	Cache          Cache
	ScanPasses     int
	PromptTemplate string // must contain one "%s" for the universe list
}

const defaultPromptTemplate = "Given today's earnings-report tickers: %s\n" +
	"Which of these look like strong intraday trading candidates? " +
	"Respond with a JSON array of ticker symbols only."

// Select returns the watchlist for the given day. A cache hit short
// circuits the screener and every advisor. On a miss, the screener
// supplies the day's universe, each advisor is run ScanPasses
// independent passes in parallel, and the result is the intersection of
// each advisor's per-pass union, sorted lexicographically. The result is
// cached only when the screener actually ran, so a cache hit is never
// rewritten.
func (p *Pipeline) Select(ctx context.Context, day time.Time) ([]model.Symbol, error) {
	if p.Cache != nil {
		if cached, ok := p.Cache.Load(day); ok {
			log.Info().Time("day", day).Int("count", len(cached)).Msg("selection: cache hit, skipping screener and advisors")
			return toSymbols(cached), nil
		}
	}

	universe, err := p.Screener.List(ctx, ScreenerFilter{Day: day})
	if err != nil {
		return nil, fmt.Errorf("selection: screener: %w", err)
	}
	if len(universe) == 0 {
		return nil, nil
	}

	if len(p.Advisors) == 0 {
		return nil, fmt.Errorf("selection: no advisors configured")
	}

	passes := p.ScanPasses
	if passes <= 0 {
		passes = 1
	}

	universeSet := make(map[string]struct{}, len(universe))
	for _, s := range universe {
		universeSet[string(s)] = struct{}{}
	}

	prompt := p.buildPrompt(universe)
	perAdvisorSets := p.consultAdvisors(ctx, prompt, passes, universeSet)

	consensus := intersect(perAdvisorSets)
	result := sortedSlice(consensus)

	if p.Cache != nil {
		if err := p.Cache.Save(toStrings(result), day); err != nil {
			log.Warn().Err(err).Msg("selection: failed to write ticker cache")
		}
	}

	return result, nil
}

func (p *Pipeline) buildPrompt(universe []model.Symbol) string {
	tmpl := p.PromptTemplate
	if tmpl == "" {
		tmpl = defaultPromptTemplate
	}
	names := make([]string, len(universe))
	for i, s := range universe {
		names[i] = string(s)
	}
	return fmt.Sprintf(tmpl, strings.Join(names, ", "))
}

// consultAdvisors runs every advisor's passes in parallel and returns
// one consensus set per advisor (the union of that advisor's passes).
// An advisor never aborts the pipeline: a pass that fails both its
// attempt and its retry contributes the empty set to that advisor's
// union, which is the conservative "no catalyst found" outcome.
func (p *Pipeline) consultAdvisors(ctx context.Context, prompt string, passes int, universe map[string]struct{}) []map[string]struct{} {
	results := make([]map[string]struct{}, len(p.Advisors))

	var g errgroup.Group
	for i, advisor := range p.Advisors {
		i, advisor := i, advisor
		g.Go(func() error {
			results[i] = runAdvisorPasses(ctx, advisor, prompt, passes, universe)
			return nil
		})
	}
	g.Wait()

	return results
}

// runAdvisorPasses calls one advisor ScanPasses times and unions the
// tickers extracted from each pass's raw response. Each pass is retried
// once on error before contributing the empty set. Extracted candidates
// are intersected against universe so an advisor cannot hallucinate a
// symbol the screener never offered.
func runAdvisorPasses(ctx context.Context, advisor Advisor, prompt string, passes int, universe map[string]struct{}) map[string]struct{} {
	union := make(map[string]struct{})

	for pass := 0; pass < passes; pass++ {
		raw, err := advisor.Recommend(ctx, prompt)
		if err != nil {
			log.Warn().Err(err).Str("advisor", advisor.Name()).Int("pass", pass).Msg("selection: advisor call failed, retrying once")
			raw, err = advisor.Recommend(ctx, prompt)
			if err != nil {
				log.Warn().Err(err).Str("advisor", advisor.Name()).Int("pass", pass).Msg("selection: advisor retry failed, contributing empty set")
				continue
			}
		}
		for _, t := range extractTickers(raw) {
			if _, ok := universe[t]; !ok {
				continue
			}
			union[t] = struct{}{}
		}
	}

	return union
}

// intersect returns the set of symbols present in every set.
// An advisor that returned nothing contributes an empty set, which
// drives the intersection to empty — consensus requires every advisor
// to agree, not just the ones that found something.
func intersect(sets []map[string]struct{}) map[string]struct{} {
	if len(sets) == 0 {
		return nil
	}

	result := make(map[string]struct{}, len(sets[0]))
	for k := range sets[0] {
		result[k] = struct{}{}
	}

	for _, s := range sets[1:] {
		for k := range result {
			if _, ok := s[k]; !ok {
				delete(result, k)
			}
		}
	}

	return result
}

var tickerRegexp = regexp.MustCompile(`\b[A-Z]{1,5}(\.[A-Z]{1,2})?\b`)

// extractTickers applies the ticker-extraction ladder to an advisor's
// raw response text: strip markdown code fences, then try a JSON array
// (of strings, or of objects with a case-insensitive "ticker" key), then
// a flat JSON object's keys, and finally fall back to a regex scan for
// bare ticker-shaped tokens.
func extractTickers(raw string) []string {
	text := stripCodeFences(raw)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if tickers, ok := tryJSONArray(text); ok {
		return tickers
	}
	if tickers, ok := tryJSONObjectKeys(text); ok {
		return tickers
	}

	matches := tickerRegexp.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, string(model.NormalizeSymbol(m)))
	}
	return out
}

var codeFenceRegexp = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func stripCodeFences(raw string) string {
	if m := codeFenceRegexp.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

func tryJSONArray(text string) ([]string, bool) {
	var rawItems []json.RawMessage
	if err := json.Unmarshal([]byte(text), &rawItems); err != nil {
		return nil, false
	}

	var out []string
	for _, item := range rawItems {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, string(model.NormalizeSymbol(s)))
			continue
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, false
		}
		ticker, ok := lookupTickerKey(obj)
		if !ok {
			return nil, false
		}
		out = append(out, string(model.NormalizeSymbol(ticker)))
	}

	return out, true
}

func tryJSONObjectKeys(text string) ([]string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}

	out := make([]string, 0, len(obj))
	for k := range obj {
		out = append(out, string(model.NormalizeSymbol(k)))
	}
	return out, true
}

// lookupTickerKey finds a case-insensitive "ticker" key in a JSON object.
func lookupTickerKey(obj map[string]json.RawMessage) (string, bool) {
	for k, v := range obj {
		if strings.EqualFold(k, "ticker") {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				return s, true
			}
		}
	}
	return "", false
}

func sortedSlice(set map[string]struct{}) []model.Symbol {
	out := make([]model.Symbol, 0, len(set))
	for k := range set {
		out = append(out, model.Symbol(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func toSymbols(ss []string) []model.Symbol {
	out := make([]model.Symbol, len(ss))
	for i, s := range ss {
		out[i] = model.Symbol(s)
	}
	return out
}

func toStrings(ss []model.Symbol) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
