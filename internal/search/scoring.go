// Package search resolves free-form music requests to downloadable URLs by
// querying source adapters and scoring candidates against the target.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	weightArtist   = 0.30
	weightTrack    = 0.35
	weightAlbum    = 0.15
	weightDuration = 0.15
	weightBonus    = 0.05

	baselineNeutral = 0.60

	// DefaultMinMatchScore is the acceptance threshold for the best ranked
	// candidate.
	DefaultMinMatchScore = 0.92
)

var (
	featRe       = regexp.MustCompile(`\b(featuring|feat\.?|ft\.?)\b`)
	bracketRe    = regexp.MustCompile(`[(\[{][^)\]}]*[)\]}]`)
	punctRe      = regexp.MustCompile(`[^\w\s/&]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

var (
	penaltyTerms  = map[string]bool{"cover": true, "tribute": true, "karaoke": true, "reaction": true, "8d": true, "nightcore": true, "slowed": true}
	liveTerms     = map[string]bool{"live": true}
	remasterTerms = map[string]bool{"remaster": true, "remastered": true}
)

// NormalizeText lowers, decomposes and strips decoration so token overlap
// compares the words that matter.
func NormalizeText(value string) string {
	if value == "" {
		return ""
	}
	text := norm.NFKD.String(value)
	text = strings.ToLower(strings.TrimSpace(text))
	text = stripCombining(text)
	text = featRe.ReplaceAllString(text, "feat")
	text = bracketRe.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "_", " ")
	text = punctRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

func stripCombining(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tokenize splits a value into normalized tokens.
func Tokenize(value string) []string {
	normalized := NormalizeText(value)
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// TokenSimilarity is set overlap divided by the larger token set.
func TokenSimilarity(target, candidate []string) float64 {
	if len(target) == 0 || len(candidate) == 0 {
		return 0
	}
	targetSet := toSet(target)
	candidateSet := toSet(candidate)
	common := 0
	for token := range targetSet {
		if candidateSet[token] {
			common++
		}
	}
	larger := len(targetSet)
	if len(candidateSet) > larger {
		larger = len(candidateSet)
	}
	return float64(common) / float64(larger)
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		set[token] = true
	}
	return set
}

// DurationScore rates how closely candidate length matches the hint.
// Unknown durations score neutral.
func DurationScore(targetSec, candidateSec *int) float64 {
	if targetSec == nil || candidateSec == nil {
		return baselineNeutral
	}
	delta := *targetSec - *candidateSec
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta <= 2:
		return 1.0
	case delta <= 5:
		return 0.90
	case delta <= 10:
		return 0.75
	case delta <= 20:
		return 0.50
	default:
		return 0.20
	}
}

func hasTerms(tokens []string, terms map[string]bool) bool {
	for _, token := range tokens {
		if terms[token] {
			return true
		}
	}
	return false
}

func penaltyMultiplier(targetTrackTokens, candidateTokens []string, artistScore float64) float64 {
	multiplier := 1.0
	if hasTerms(candidateTokens, penaltyTerms) && !hasTerms(targetTrackTokens, penaltyTerms) {
		multiplier *= 0.10
	}
	if hasTerms(candidateTokens, liveTerms) != hasTerms(targetTrackTokens, liveTerms) {
		multiplier *= 0.85
	}
	if hasTerms(candidateTokens, remasterTerms) != hasTerms(targetTrackTokens, remasterTerms) {
		multiplier *= 0.92
	}
	if artistScore < 0.50 {
		multiplier *= 0.50
	}
	return multiplier
}

// Target is what the request asked for.
type Target struct {
	Artist          string
	Track           string
	Album           string
	DurationHintSec *int
}

// Candidate is one search hit from an adapter.
type Candidate struct {
	Source         string
	URL            string
	Title          string
	Uploader       string
	Artist         string
	Album          string
	Track          string
	DurationSec    *int
	ArtworkURL     string
	RawMeta        map[string]any
	SourceModifier float64
	IsOfficial     bool
}

// ScoreBreakdown records each factor feeding the final score.
type ScoreBreakdown struct {
	ScoreArtist       float64
	ScoreTrack        float64
	ScoreAlbum        float64
	ScoreDuration     float64
	BonusScore        float64
	WeightedSum       float64
	SourceModifier    float64
	PenaltyMultiplier float64
	FinalScore        float64
}

// ScoreCandidate rates one candidate against the target.
func ScoreCandidate(target Target, candidate Candidate, sourceModifier float64) ScoreBreakdown {
	candidateArtist := candidate.Artist
	if candidateArtist == "" {
		candidateArtist = candidate.Uploader
	}
	candidateTrack := candidate.Track
	if candidateTrack == "" {
		candidateTrack = candidate.Title
	}

	targetArtistTokens := Tokenize(target.Artist)
	targetTrackTokens := Tokenize(target.Track)
	targetAlbumTokens := Tokenize(target.Album)

	candidateArtistTokens := Tokenize(candidateArtist)
	candidateTrackTokens := Tokenize(candidateTrack)
	candidateAlbumTokens := Tokenize(candidate.Album)
	candidateTitleTokens := Tokenize(candidate.Title)

	scoreArtist := TokenSimilarity(targetArtistTokens, candidateArtistTokens)
	scoreTrack := baselineNeutral
	if len(targetTrackTokens) > 0 {
		scoreTrack = TokenSimilarity(targetTrackTokens, candidateTrackTokens)
	}
	scoreAlbum := baselineNeutral
	if len(targetAlbumTokens) > 0 && len(candidateAlbumTokens) > 0 {
		scoreAlbum = TokenSimilarity(targetAlbumTokens, candidateAlbumTokens)
	}
	scoreDuration := DurationScore(target.DurationHintSec, candidate.DurationSec)
	bonusScore := 0.0

	weightedSum := clamp01(
		weightArtist*scoreArtist +
			weightTrack*scoreTrack +
			weightAlbum*scoreAlbum +
			weightDuration*scoreDuration +
			weightBonus*bonusScore)

	penaltyTokens := unionTokens(candidateTrackTokens, candidateTitleTokens)
	penalty := penaltyMultiplier(targetTrackTokens, penaltyTokens, scoreArtist)

	return ScoreBreakdown{
		ScoreArtist:       scoreArtist,
		ScoreTrack:        scoreTrack,
		ScoreAlbum:        scoreAlbum,
		ScoreDuration:     scoreDuration,
		BonusScore:        bonusScore,
		WeightedSum:       weightedSum,
		SourceModifier:    sourceModifier,
		PenaltyMultiplier: penalty,
		FinalScore:        weightedSum * sourceModifier * penalty,
	}
}

func unionTokens(a, b []string) []string {
	set := toSet(a)
	for _, token := range b {
		set[token] = true
	}
	union := make([]string, 0, len(set))
	for token := range set {
		union = append(union, token)
	}
	return union
}

// Ranked pairs a candidate with its score and final rank.
type Ranked struct {
	Candidate Candidate
	Breakdown ScoreBreakdown
	Rank      int
}

// RankCandidates scores and orders candidates, best first. Ties break on
// configured source priority, then URL for determinism.
func RankCandidates(target Target, candidates []Candidate, sourcePriority []string) []Ranked {
	sourceRank := map[string]int{}
	for idx, name := range sourcePriority {
		sourceRank[name] = idx
	}
	rankOf := func(source string) int {
		if idx, ok := sourceRank[source]; ok {
			return idx
		}
		return 999
	}

	ranked := make([]Ranked, 0, len(candidates))
	for _, candidate := range candidates {
		modifier := candidate.SourceModifier
		if modifier == 0 {
			modifier = 1.0
		}
		ranked = append(ranked, Ranked{
			Candidate: candidate,
			Breakdown: ScoreCandidate(target, candidate, modifier),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Breakdown.FinalScore != b.Breakdown.FinalScore {
			return a.Breakdown.FinalScore > b.Breakdown.FinalScore
		}
		if rankOf(a.Candidate.Source) != rankOf(b.Candidate.Source) {
			return rankOf(a.Candidate.Source) < rankOf(b.Candidate.Source)
		}
		return a.Candidate.URL < b.Candidate.URL
	})
	for idx := range ranked {
		ranked[idx].Rank = idx + 1
	}
	return ranked
}
