package clarify

import "regexp"

// The brand heuristic is pure data so it can be extended and tested without
// touching control flow: a brand-context pattern that disables the pre-check,
// an ordered anchor table, and a table of ambiguous item classes.

// brandContextPattern matches explicit brand wording anywhere in the message.
// When it hits, the deterministic pre-check is skipped entirely.
var brandContextPattern = regexp.MustCompile(`(?i)\b(mcdonald'?s?|burger\s+king|bk|wendy'?s?|taco\s+bell|kfc|subway|starbucks|chick[-\s]?fil[-\s]?a|popeyes|dairy\s+queen|a&w|five\s+guys|harveys|tim\s+hortons)\b`)

// brandAnchor is an item name unique enough to pin a brand (a flagship
// product). Order matters: the first anchor that matches wins when a message
// somehow contains anchors from different chains.
type brandAnchor struct {
	Brand   string
	Label   string // display name used in questions
	Pattern *regexp.Regexp
}

var brandAnchors = []brandAnchor{
	{Brand: "mcdonalds", Label: "McDonald's", Pattern: regexp.MustCompile(`(?i)\b(big\s+mac|quarter\s+pounder|mcflurry|mcrib|mcmuffin)\b`)},
	{Brand: "burgerking", Label: "Burger King", Pattern: regexp.MustCompile(`(?i)\b(whopper|whopper\s+junior)\b`)},
	{Brand: "kfc", Label: "KFC", Pattern: regexp.MustCompile(`(?i)\b(original\s+recipe|extra\s+crispy|famous\s+bowl)\b`)},
	{Brand: "subway", Label: "Subway", Pattern: regexp.MustCompile(`(?i)\b(footlong|six\s+inch|subway\s+sandwich)\b`)},
	{Brand: "starbucks", Label: "Starbucks", Pattern: regexp.MustCompile(`(?i)\b(venti|grande|frappuccino|pumpkin\s+spice)\b`)},
	{Brand: "popeyes", Label: "Popeyes", Pattern: regexp.MustCompile(`(?i)\b(spicy\s+chicken|famous\s+biscuit)\b`)},
}

// ambiguousItem is a generic branded-food term that needs a brand to resolve
// nutrition data. DefaultBrand names the chain the heuristic assumes when it
// has to ask.
type ambiguousItem struct {
	Name           string
	Pattern        *regexp.Regexp
	DefaultBrand   string
	SingleQuestion string
}

var ambiguousItems = []ambiguousItem{
	{
		Name:           "nuggets",
		Pattern:        regexp.MustCompile(`(?i)\b(mcnuggets?|chicken\s+mcnuggets?|10[-\s]?pc|10[-\s]?piece|nuggets?)\b`),
		DefaultBrand:   "mcdonalds",
		SingleQuestion: "Are those McDonald's Chicken McNuggets?",
	},
	{
		Name:           "fries",
		Pattern:        regexp.MustCompile(`(?i)\b(large\s+fries|lrg\s+fries|lg\s+fries|fries|french\s+fries)\b`),
		DefaultBrand:   "mcdonalds",
		SingleQuestion: "Are those McDonald's large fries, or from another restaurant?",
	},
	{
		Name:           "mcchicken",
		Pattern:        regexp.MustCompile(`(?i)\b(mcchicken|mcchicken\s+sandwich)\b`),
		DefaultBrand:   "mcdonalds",
		SingleQuestion: "Are you asking about McDonald's McChicken sandwich?",
	},
	{
		Name:           "mcdouble",
		Pattern:        regexp.MustCompile(`(?i)\b(mcdouble|double\s+cheeseburger)\b`),
		DefaultBrand:   "mcdonalds",
		SingleQuestion: "Are you asking about McDonald's McDouble?",
	},
	{
		Name:           "combo/meal",
		Pattern:        regexp.MustCompile(`(?i)\b(happy\s+meal|combo|meal)\b`),
		DefaultBrand:   "mcdonalds",
		SingleQuestion: "Are you asking about a McDonald's combo meal?",
	},
}

// brandLabel resolves a brand key to its display name.
func brandLabel(brand string) string {
	for _, a := range brandAnchors {
		if a.Brand == brand {
			return a.Label
		}
	}
	return "McDonald's"
}
