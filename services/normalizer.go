package services

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"pricewatch/models"
)

// DefaultLanguage is assigned when no language rule matches.
const DefaultLanguage = "en"

// Rule is one classification label with the patterns that select it.
type Rule struct {
	Label    string
	Patterns []*regexp.Regexp
}

func rule(label string, patterns ...string) Rule {
	r := Rule{Label: label}
	for _, p := range patterns {
		r.Patterns = append(r.Patterns, regexp.MustCompile(p))
	}
	return r
}

// Category rules are evaluated top to bottom and the first match wins, so specific
// multi-word products must stay above the generic booster/pack/box rules.
var categoryRules = []Rule{
	rule("elite_trainer_box", `\belite trainer box(es)?\b`, `\betb\b`),
	rule("booster_bundle", `\bbooster bundles?\b`),
	rule("booster_box", `\bbooster box(es)?\b`, `\bbooster display\b`, `\bdisplay\b`, `\b(24|30|36) (booster )?packs?\b`),
	rule("build_and_battle", `\bbuild (and )?battle\b`),
	rule("collection_box", `\bpremium collection\b`, `\bspecial collection\b`, `\bcollection box\b`, `\bcollection\b`),
	rule("tin", `\bmini tins?\b`, `\btins?\b`),
	rule("blister", `\b(3|three) pack blister\b`, `\bblisters?\b`, `\bcheck ?lane\b`),
	rule("theme_deck", `\bstarter decks?\b`, `\btheme decks?\b`, `\bbattle decks?\b`, `\bstructure decks?\b`, `\bdecks?\b`),
	rule("booster_pack", `\bbooster packs?\b`, `\bboosters?\b`, `\bpacks?\b`),
}

var brandRules = []Rule{
	rule("pokemon", `\bpokemon\b`, `\bpkmn\b`),
	rule("magic_the_gathering", `\bmagic the gathering\b`, `\bmtg\b`, `\bmagic\b`),
	rule("yugioh", `\byu gi oh\b`, `\byugioh\b`),
	rule("one_piece", `\bone piece\b`),
	rule("lorcana", `\blorcana\b`),
	rule("digimon", `\bdigimon\b`),
	rule("flesh_and_blood", `\bflesh (and )?blood\b`),
	rule("star_wars_unlimited", `\bstar wars unlimited\b`),
	rule("dragon_ball", `\bdragon ball\b`),
}

var languageRules = []Rule{
	rule("ja", `\bjapanese\b`, `\bjapansk\b`, `\bjpn?\b`),
	rule("ko", `\bkorean\b`, `\bkoreansk\b`, `\bkor\b`),
	rule("zh", `\bchinese\b`, `\bkinesisk\b`),
	rule("de", `\bgerman\b`, `\btysk\b`, `\bdeutsch\b`),
	rule("fr", `\bfrench\b`, `\bfransk\b`, `\bfrancais\b`),
	rule("es", `\bspanish\b`, `\bspansk\b`),
	rule("it", `\bitalian\b`, `\bitaliensk\b`),
	rule("en", `\benglish\b`, `\bengelsk\b`, `\beng\b`),
}

// stripPatterns remove everything that is not product identity. Longer phrases come first.
var stripPatterns = compileAll(
	// meta
	`\bpre ?orders?\b`, `\bforhandsbestilling\b`, `\bforhandssalg\b`,
	`\b(max|maks|limit) \d+ (per|pr) \w+\b`, `\b\d+ (per|pr) (person|kunde|customer|household|husstand)\b`,
	`\bnyhet\b`, `\bnew\b`, `\btilbud\b`, `\bkampanje\b`, `\bsale\b`, `\bsealed\b`, `\bforseglet\b`,
	// brand
	`\bpokemon trading card game\b`, `\bpokemon tcg\b`, `\bpokemon\b`, `\bpkmn\b`,
	`\bmagic the gathering\b`, `\bmtg\b`, `\byu gi oh\b`, `\byugioh\b`,
	`\bdisney lorcana\b`, `\blorcana\b`, `\bone piece card game\b`, `\bone piece\b`,
	`\bdigimon card game\b`, `\bdigimon\b`, `\bflesh (and )?blood\b`, `\bstar wars unlimited\b`,
	`\bdragon ball super\b`, `\bdragon ball\b`, `\btrading card game\b`, `\bcard game\b`, `\btcg\b`, `\bccg\b`,
	// category
	`\belite trainer box(es)?\b`, `\betb\b`, `\bbooster bundles?\b`, `\bbooster box(es)?\b`, `\bbooster display\b`,
	`\bdisplay\b`, `\b\d+ (booster )?packs?\b`, `\bbuild (and )?battle( box| stadium| kit)?\b`,
	`\bpremium collection\b`, `\bspecial collection\b`, `\bcollection box\b`, `\bcollection\b`,
	`\bmini tins?\b`, `\btins?\b`, `\b(3|three) pack blister\b`, `\bblisters?\b`, `\bcheck ?lane\b`,
	`\bstarter decks?\b`, `\btheme decks?\b`, `\bbattle decks?\b`, `\bstructure decks?\b`, `\bdecks?\b`,
	`\bbooster packs?\b`, `\bboosters?\b`, `\bpacks?\b`, `\bbox(es)?\b`,
	// language
	`\bjapanese\b`, `\bjapansk\b`, `\bjpn?\b`, `\bkorean\b`, `\bkoreansk\b`, `\bkor\b`,
	`\bsimplified\b`, `\btraditional\b`, `\bchinese\b`, `\bkinesisk\b`,
	`\bgerman\b`, `\btysk\b`, `\bdeutsch\b`, `\bfrench\b`, `\bfransk\b`, `\bfrancais\b`,
	`\bspanish\b`, `\bspansk\b`, `\bitalian\b`, `\bitaliensk\b`,
	`\benglish\b`, `\bengelsk\b`, `\beng\b`, `\bversion\b`, `\bversjon\b`, `\butgave\b`,
)

// typoTable fixes recurring misspellings seen in shop listings.
var typoTable = map[string]string{
	"pokmon":       "pokemon",
	"pokeom":       "pokemon",
	"pokemons":     "pokemon",
	"boster":       "booster",
	"boosterbox":   "booster box",
	"boosterpack":  "booster pack",
	"trainerbox":   "trainer box",
	"elitetrainer": "elite trainer",
	"colection":    "collection",
	"scarlett":     "scarlet",
	"preorder":     "pre order",
}

var (
	parentheticalRegexp = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	apostropheRegexp    = regexp.MustCompile(`['’´` + "`" + `]`)
	nonAlnumRegexp      = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	escapeRegexp        = regexp.MustCompile(`\\[a-zA-Z]`)
	wordRegexp          = regexp.MustCompile(`[a-z]{3,}`)
	letterFolder        = strings.NewReplacer("ø", "o", "æ", "ae", "ß", "ss", "ł", "l", "đ", "d")
)

// Normalizer classifies raw product names and reduces them to identity strings.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	categories []Rule
	brands     []Rule
	languages  []Rule
	strip      []*regexp.Regexp
	typos      map[string]string
	vocabulary map[string]struct{}
}

// NewNormalizer returns a Normalizer using the built-in rule tables.
func NewNormalizer() *Normalizer {
	n := &Normalizer{
		categories: categoryRules,
		brands:     brandRules,
		languages:  languageRules,
		strip:      stripPatterns,
		typos:      typoTable,
	}
	n.vocabulary = buildVocabulary(n)
	return n
}

// Prepare returns the pre-normalised form of raw: lower-cased, diacritics folded,
// parenthetical text removed, punctuation collapsed to single spaces and typos corrected.
func (n *Normalizer) Prepare(raw string) string {
	s := foldDiacritics(strings.ToLower(raw))
	s = parentheticalRegexp.ReplaceAllString(s, " ")
	s = apostropheRegexp.ReplaceAllString(s, "")
	s = nonAlnumRegexp.ReplaceAllString(s, " ")
	return n.correctTypos(strings.Fields(s))
}

// DetectCategory returns the first matching category label, or nil.
func (n *Normalizer) DetectCategory(raw string) *string {
	return firstMatch(n.categories, n.Prepare(raw))
}

// DetectBrand returns the first matching brand label, or nil.
func (n *Normalizer) DetectBrand(raw string) *string {
	return firstMatch(n.brands, n.Prepare(raw))
}

// DetectLanguage returns the first matching language code, defaulting to "en".
func (n *Normalizer) DetectLanguage(raw string) string {
	if lang := firstMatch(n.languages, n.Prepare(raw)); lang != nil {
		return *lang
	}
	return DefaultLanguage
}

// Classify runs all three detectors over one prepared copy of raw.
func (n *Normalizer) Classify(raw string) models.Classification {
	prepared := n.Prepare(raw)
	c := models.Classification{
		Category: firstMatch(n.categories, prepared),
		Brand:    firstMatch(n.brands, prepared),
		Language: DefaultLanguage,
	}
	if lang := firstMatch(n.languages, prepared); lang != nil {
		c.Language = *lang
	}
	return c
}

// NormalizeName strips brand, category, language and promotional tokens from raw and
// returns the remaining product-identity string. An empty result means "no identity".
func (n *Normalizer) NormalizeName(raw string) string {
	s := n.Prepare(raw)
	for {
		before := s
		for _, re := range n.strip {
			s = collapseSpaces(re.ReplaceAllString(s, " "))
		}
		if s == before {
			break
		}
	}
	return collapseSpaces(nonAlnumRegexp.ReplaceAllString(s, " "))
}

func firstMatch(rules []Rule, s string) *string {
	for _, r := range rules {
		for _, re := range r.Patterns {
			if re.MatchString(s) {
				label := r.Label
				return &label
			}
		}
	}
	return nil
}

// correctTypos applies the typo table, then snaps long tokens that are one edit away
// from exactly one rule keyword onto that keyword.
func (n *Normalizer) correctTypos(tokens []string) string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if fixed, ok := n.typos[tok]; ok {
			out = append(out, fixed)
			continue
		}
		out = append(out, n.snapToVocabulary(tok))
	}
	return strings.Join(out, " ")
}

func (n *Normalizer) snapToVocabulary(tok string) string {
	if len(tok) < 6 || strings.IndexFunc(tok, unicode.IsDigit) >= 0 {
		return tok
	}
	if _, known := n.vocabulary[tok]; known {
		return tok
	}

	match := ""
	for word := range n.vocabulary {
		if len(word) < 5 || matchr.DamerauLevenshtein(tok, word) != 1 {
			continue
		}
		if match != "" {
			return tok
		}
		match = word
	}
	if match == "" {
		return tok
	}
	return match
}

// buildVocabulary collects the literal words used by the rule tables and typo fixes.
func buildVocabulary(n *Normalizer) map[string]struct{} {
	vocab := make(map[string]struct{})
	add := func(src string) {
		for _, w := range wordRegexp.FindAllString(escapeRegexp.ReplaceAllString(src, " "), -1) {
			vocab[w] = struct{}{}
			// plural patterns are written as "packs?", keep the singular too
			if singular := strings.TrimSuffix(w, "s"); len(singular) >= 3 {
				vocab[singular] = struct{}{}
			}
		}
	}
	for _, group := range [][]Rule{n.categories, n.brands, n.languages} {
		for _, r := range group {
			for _, re := range r.Patterns {
				add(re.String())
			}
		}
	}
	for _, re := range n.strip {
		add(re.String())
	}
	for _, fixed := range n.typos {
		add(fixed)
	}
	return vocab
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return letterFolder.Replace(folded)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}
