package domain

type EmotionType string

// EmotionAggregate is the crowd-wide emotion picture. Percentages are fractions
// of Total and sum to 1 whenever Total > 0; every type is present with 0 otherwise.
type EmotionAggregate struct {
	Total       int                     `json:"total"`
	Counts      map[EmotionType]int     `json:"counts"`
	Percentages map[EmotionType]float64 `json:"percentages"`
}

// EmotionDelta is emitted for every activation.
type EmotionDelta struct {
	Type      EmotionType      `json:"type"`
	Delta     int              `json:"delta"`
	Aggregate EmotionAggregate `json:"aggregate"`
}
