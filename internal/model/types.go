package model

// ImagePrediction is the score of one input image. Confidence is aligned
// with PredictionReport.Classes; Class and Probability name the best entry.
type ImagePrediction struct {
	Name        string    `json:"name"`
	Confidence  []float32 `json:"confidence"`
	Class       string    `json:"class"`
	Probability float32   `json:"probability"`
}

type PredictionReport struct {
	Classes    []string          `json:"classes"`
	Images     []ImagePrediction `json:"images"`
	ExecTimeMS float64           `json:"execTime_ms"`
}

// NewImagePrediction ranks confidence against classes.
func NewImagePrediction(name string, confidence []float32, classes []string) ImagePrediction {
	pred := ImagePrediction{Name: name, Confidence: confidence}
	maxIdx := -1
	for i, val := range confidence {
		if i >= len(classes) {
			break
		}
		if maxIdx < 0 || val > confidence[maxIdx] {
			maxIdx = i
		}
	}
	if maxIdx >= 0 {
		pred.Class = classes[maxIdx]
		pred.Probability = confidence[maxIdx]
	}
	return pred
}
