package classifier

import (
	"math"
	"strings"

	"github.com/antonholmquist/jason"
)

// labelKeys are the reply fields accepted as the predicted label, in order.
var labelKeys = []string{"class", "label", "predicted_class"}

// Normalize extracts a prediction from a raw model reply. The JSON object is
// taken from the first '{' to the last '}'. It requires a non-empty string
// label and a numeric confidence in [0,1]; anything else yields the
// irrelevant prediction and ok == false.
func Normalize(payload []byte) (pred Prediction, ok bool) {
	text := string(payload)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Irrelevant(), false
	}

	obj, err := jason.NewObjectFromBytes([]byte(text[start : end+1]))
	if err != nil {
		return Irrelevant(), false
	}

	var label string
	for _, key := range labelKeys {
		if v, err := obj.GetString(key); err == nil && strings.TrimSpace(v) != "" {
			label = v
			break
		}
	}
	if label == "" {
		return Irrelevant(), false
	}

	confidence, err := obj.GetFloat64("confidence")
	if err != nil || math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return Irrelevant(), false
	}

	return Prediction{
		Label:      strings.ToLower(strings.TrimSpace(label)),
		Confidence: confidence,
	}, true
}
