package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"storefront-edge/internal/client"
	"storefront-edge/internal/config"
	"storefront-edge/internal/metrics"
	"storefront-edge/internal/model"
)

var (
	// ErrNoImage is returned when a call carries neither an image URL nor inline data.
	ErrNoImage = errors.New("an image URL or base64 image is required")
	// ErrTooManyImages is returned when a multi-image call exceeds the configured cap.
	ErrTooManyImages = errors.New("too many images")
	// ErrUnexpected replaces panics raised while shaping a vision answer.
	ErrUnexpected = errors.New("unexpected error while analyzing the image")
)

// VisionCompleter sends a prompt and images to a multimodal model and returns its text answer.
type VisionCompleter interface {
	Complete(ctx context.Context, prompt string, images []model.ImageInput) (string, error)
}

const analysisSchema = `{"name": string, "brand": string, "category": string, "description": string, ` +
	`"specs": {string: string}, "tags": [string], "colors": [string], ` +
	`"quality": {"score": number 0-100, "issues": [string]}, "confidence": number 0-1}`

const analyzePrompt = `You are a cataloguing assistant for a wholesale marketplace. ` +
	`Identify the product in the image and answer with one JSON object shaped as ` + analysisSchema + `. ` +
	`Use empty strings or empty lists for anything you cannot determine.`

const analyzeMultiplePrompt = `You are a cataloguing assistant for a wholesale marketplace. ` +
	`The %d images show the same product from different angles. Answer with one JSON object ` +
	`{"images": [one analysis per image, in order], "combined": analysis merging every angle}, ` +
	`where each analysis is shaped as ` + analysisSchema + `.`

const matchPrompt = `You are a cataloguing assistant for a wholesale marketplace. ` +
	`Identify the product in the image, then rate how likely it is each of these catalog products:
%s
Answer with one JSON object {"analysis": ` + analysisSchema + `, ` +
	`"matches": [{"productId": string, "similarity": number 0-100, "reasons": [string]}]}.`

// codeFence matches a markdown code fence wrapped around a model answer.
var codeFence = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*(.*?)\\s*```\\s*$")

// VisionService validates vision requests, calls the model and shapes its answer.
type VisionService struct {
	vision        VisionCompleter
	logger        *slog.Logger
	metrics       *metrics.Metrics
	maxImages     int
	minSimilarity float64
}

// NewVisionService creates a VisionService. The metrics parameter is optional.
func NewVisionService(v VisionCompleter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *VisionService {
	return &VisionService{
		vision:        v,
		logger:        logger.With("component", "vision_service"),
		metrics:       m,
		maxImages:     cfg.Vision.MaxImages,
		minSimilarity: cfg.Vision.MinSimilarity,
	}
}

// MaxImages returns the cap applied to multi-image analysis.
func (s *VisionService) MaxImages() int { return s.maxImages }

// MinSimilarity returns the default match threshold.
func (s *VisionService) MinSimilarity() float64 { return s.minSimilarity }

// Analyze extracts product attributes from one image.
func (s *VisionService) Analyze(ctx context.Context, img model.ImageInput, prompt string) (result *model.ImageAnalysis, err error) {
	defer s.observe("analyze", &err)
	defer recoverUnexpected(&err)

	if img.Empty() {
		return nil, ErrNoImage
	}
	answer, err := s.vision.Complete(ctx, withInstructions(analyzePrompt, prompt), []model.ImageInput{img})
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}

	var out model.ImageAnalysis
	if err := decodeAnswer(answer, &out); err != nil {
		return nil, err
	}
	normalizeAnalysis(&out)
	return &out, nil
}

// AnalyzeMultiple analyzes up to MaxImages images of the same item and merges the findings.
func (s *VisionService) AnalyzeMultiple(ctx context.Context, images []model.ImageInput, prompt string) (result *model.MultiImageAnalysis, err error) {
	defer s.observe("analyze_multiple", &err)
	defer recoverUnexpected(&err)

	images = nonEmptyImages(images)
	if len(images) == 0 {
		return nil, ErrNoImage
	}
	if len(images) > s.maxImages {
		return nil, fmt.Errorf("%w: got %d, maximum is %d", ErrTooManyImages, len(images), s.maxImages)
	}
	answer, err := s.vision.Complete(ctx, withInstructions(fmt.Sprintf(analyzeMultiplePrompt, len(images)), prompt), images)
	if err != nil {
		return nil, fmt.Errorf("analyze images: %w", err)
	}

	var out model.MultiImageAnalysis
	if err := decodeAnswer(answer, &out); err != nil {
		return nil, err
	}
	for i := range out.Images {
		normalizeAnalysis(&out.Images[i])
	}
	if out.Combined.Name == "" && len(out.Images) > 0 {
		out.Combined = mergeAnalyses(out.Images)
	}
	normalizeAnalysis(&out.Combined)
	return &out, nil
}

// matchAnswer is the JSON shape requested from the model by FindMatches.
type matchAnswer struct {
	Analysis model.ImageAnalysis `json:"analysis"`
	Matches  []struct {
		ProductID  string   `json:"productId"`
		Similarity float64  `json:"similarity"`
		Reasons    []string `json:"reasons"`
	} `json:"matches"`
}

// FindMatches analyzes one image and scores every candidate against it.
// Only candidates scoring at least minSimilarity are returned, best first;
// a nil minSimilarity selects the configured default.
func (s *VisionService) FindMatches(ctx context.Context, img model.ImageInput, candidates []model.ProductCandidate, minSimilarity *float64) (result *model.MatchResult, err error) {
	defer s.observe("match", &err)
	defer recoverUnexpected(&err)

	if img.Empty() {
		return nil, ErrNoImage
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: products must be a non-empty list", ErrValidation)
	}
	threshold := s.minSimilarity
	if minSimilarity != nil {
		threshold = *minSimilarity
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("%w: minSimilarity must be between 0 and 100", ErrValidation)
	}

	answer, err := s.vision.Complete(ctx, fmt.Sprintf(matchPrompt, describeCandidates(candidates)), []model.ImageInput{img})
	if err != nil {
		return nil, fmt.Errorf("match image: %w", err)
	}

	var parsed matchAnswer
	if err := decodeAnswer(answer, &parsed); err != nil {
		return nil, err
	}
	normalizeAnalysis(&parsed.Analysis)

	scored := make(map[string]int, len(parsed.Matches))
	for i, m := range parsed.Matches {
		scored[m.ProductID] = i
	}

	all := make([]model.ProductMatch, 0, len(candidates))
	for _, c := range candidates {
		if i, ok := scored[c.ID]; ok {
			m := parsed.Matches[i]
			all = append(all, model.ProductMatch{
				Product:    c,
				Similarity: clampScore(m.Similarity),
				Reasons:    m.Reasons,
			})
			continue
		}
		score, reasons := localSimilarity(parsed.Analysis, c)
		all = append(all, model.ProductMatch{Product: c, Similarity: score, Reasons: reasons})
	}

	matches := FilterMatches(all, threshold)
	s.logger.Debug("vision matches",
		"scanned", len(candidates),
		"matched", len(matches),
		"threshold", threshold,
	)

	return &model.MatchResult{
		Analysis:      parsed.Analysis,
		Matches:       matches,
		TotalScanned:  len(candidates),
		TotalMatched:  len(matches),
		MinSimilarity: threshold,
	}, nil
}

// FilterMatches keeps matches scoring at least threshold and orders them by
// descending similarity. Ties keep their input order.
func FilterMatches(matches []model.ProductMatch, threshold float64) []model.ProductMatch {
	out := make([]model.ProductMatch, 0, len(matches))
	for _, m := range matches {
		if m.Similarity >= threshold {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}

func (s *VisionService) observe(op string, err *error) {
	outcome := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrNoImage), errors.Is(*err, ErrTooManyImages), errors.Is(*err, ErrValidation):
		outcome = "invalid"
	case client.IsCredentialError(*err):
		outcome = "config_error"
	default:
		outcome = "error"
	}

	if *err != nil && outcome != "invalid" {
		s.logger.Error("vision call failed", "operation", op, "err", *err)
	}
	if s.metrics != nil {
		s.metrics.VisionRequests.WithLabelValues(op, outcome).Inc()
	}
}

func recoverUnexpected(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrUnexpected, r)
	}
}

// decodeAnswer strips an optional markdown fence and decodes the model's JSON answer.
func decodeAnswer(answer string, v any) error {
	text := strings.TrimSpace(answer)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decode vision answer: %w", err)
	}
	return nil
}

// withInstructions appends caller instructions to a base prompt without
// replacing the answer schema.
func withInstructions(base, extra string) string {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return base
	}
	return base + "\nAdditional instructions from the user: " + extra
}

func nonEmptyImages(images []model.ImageInput) []model.ImageInput {
	out := make([]model.ImageInput, 0, len(images))
	for _, img := range images {
		if !img.Empty() {
			out = append(out, img)
		}
	}
	return out
}

func describeCandidates(candidates []model.ProductCandidate) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "- productId=%q name=%q", c.ID, c.Name)
		if c.Brand != "" {
			fmt.Fprintf(&b, " brand=%q", c.Brand)
		}
		if c.Category != "" {
			fmt.Fprintf(&b, " category=%q", c.Category)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func normalizeAnalysis(a *model.ImageAnalysis) {
	a.Name = strings.TrimSpace(a.Name)
	a.Brand = strings.TrimSpace(a.Brand)
	a.Category = strings.TrimSpace(a.Category)
	a.Quality.Score = clampScore(a.Quality.Score)
	a.Confidence = math.Max(0, math.Min(1, a.Confidence))
}

// mergeAnalyses builds a combined view when the model returned per-angle
// analyses only: first non-empty scalars win, lists and specs are unioned,
// quality is averaged and confidence is the weakest angle's.
func mergeAnalyses(list []model.ImageAnalysis) model.ImageAnalysis {
	var out model.ImageAnalysis
	out.Confidence = 1
	seenTags := make(map[string]bool)
	seenColors := make(map[string]bool)
	var qualitySum float64

	for _, a := range list {
		out.Name = firstNonEmpty(out.Name, a.Name)
		out.Brand = firstNonEmpty(out.Brand, a.Brand)
		out.Category = firstNonEmpty(out.Category, a.Category)
		out.Description = firstNonEmpty(out.Description, a.Description)

		for k, v := range a.Specs {
			if out.Specs == nil {
				out.Specs = make(map[string]string)
			}
			if _, ok := out.Specs[k]; !ok {
				out.Specs[k] = v
			}
		}
		out.Tags = appendUnique(out.Tags, a.Tags, seenTags)
		out.Colors = appendUnique(out.Colors, a.Colors, seenColors)
		out.Quality.Issues = append(out.Quality.Issues, a.Quality.Issues...)
		qualitySum += a.Quality.Score
		out.Confidence = math.Min(out.Confidence, a.Confidence)
	}

	out.Quality.Score = qualitySum / float64(len(list))
	return out
}

func firstNonEmpty(current, candidate string) string {
	if current != "" {
		return current
	}
	return strings.TrimSpace(candidate)
}

func appendUnique(dst, src []string, seen map[string]bool) []string {
	for _, v := range src {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		dst = append(dst, v)
	}
	return dst
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
