package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxTokens is the number of leading tokens that are scored. Longer inputs
// are truncated.
const maxTokens = 50

// Vocabulary is the on-disk form of a TokenModel.
type Vocabulary struct {
	Weights   map[string]float64 `json:"weights"`
	Bias      float64            `json:"bias"`
	Threshold float64            `json:"threshold"`
}

// TokenModel is a linear bag-of-tokens scorer. The vocabulary is loaded once
// and never modified, so a model is safe for concurrent use.
type TokenModel struct {
	weights   map[string]float64
	bias      float64
	threshold float64
}

// NewTokenModel builds a model from a vocabulary. Keys are normalized the
// same way input tokens are.
func NewTokenModel(v Vocabulary) (*TokenModel, error) {
	if len(v.Weights) == 0 {
		return nil, fmt.Errorf("vocabulary has no weights")
	}
	threshold := v.Threshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}
	weights := make(map[string]float64, len(v.Weights))
	for tok, w := range v.Weights {
		weights[normalizeToken(tok)] = w
	}
	return &TokenModel{weights: weights, bias: v.Bias, threshold: threshold}, nil
}

// LoadTokenModel reads a JSON vocabulary from path. An empty path yields the
// built-in model.
func LoadTokenModel(path string) (*TokenModel, error) {
	if path == "" {
		return NewTokenModel(DefaultVocabulary())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var v Vocabulary
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode vocabulary %s: %w", path, err)
	}
	return NewTokenModel(v)
}

// Classify labels flattened record text.
func (m *TokenModel) Classify(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Score(text) >= m.threshold {
		return LabelAnomaly, nil
	}
	return LabelNormal, nil
}

// Score returns the anomaly probability of text.
func (m *TokenModel) Score(text string) float64 {
	z := m.bias
	for _, tok := range tokenize(text) {
		z += m.weights[tok]
	}
	return 1 / (1 + math.Exp(-z))
}

func tokenize(text string) []string {
	fields := strings.Fields(text)
	if len(fields) > maxTokens {
		fields = fields[:maxTokens]
	}
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if tok := normalizeToken(f); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func normalizeToken(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != '_'
	})
}

// DefaultVocabulary returns the built-in weights. They favour authentication
// failures, privilege changes, audit tampering and high severity levels.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Bias:      -3,
		Threshold: 0.5,
		Weights: map[string]float64{
			"event_id=4625": 2.5, // failed logon
			"event_id=4740": 3.5, // account locked out
			"event_id=4771": 2.0, // kerberos pre-auth failed
			"event_id=4776": 1.0,
			"event_id=4720": 2.5, // account created
			"event_id=4726": 2.5, // account deleted
			"event_id=4732": 2.5, // added to local group
			"event_id=4728": 2.5, // added to global group
			"event_id=4672": 1.0, // special privileges
			"event_id=1102": 4.0, // audit log cleared
			"event_id=104":  3.5, // system log cleared
			"event_id=7045": 2.5, // service installed
			"event_id=4697": 2.5,
			"event_id=4698": 2.0, // scheduled task created
			"event_id=4688": 0.5,
			"event_id=4624": -1.0,
			"event_id=4634": -1.5,

			"level=critical": 2.0,
			"level=error":    1.0,
			"level=warning":  0.5,
			"level_code=1":   1.0,
			"level_code=2":   0.5,

			"failed":         1.0,
			"failure":        1.0,
			"denied":         1.0,
			"locked":         1.0,
			"unauthorized":   1.5,
			"malware":        3.0,
			"mimikatz":       4.0,
			"cleared":        1.0,
			"brute":          2.0,
			"powershell":     0.5,
			"encodedcommand": 2.5,
			"successfully":   -0.5,
		},
	}
}
