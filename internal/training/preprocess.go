package training

import (
	"errors"
	"time"
)

// ErrEmptyDataset is returned when the clickstream has no rows
var ErrEmptyDataset = errors.New("clickstream is empty")

// Pair is one (cookie, node) relation
type Pair struct {
	Cookie int64
	Node   int64
}

// Split holds the train interactions and the held-out relations to predict
type Split struct {
	Threshold time.Time
	Train     []Interaction
	Eval      []Pair
}

// Preprocess splits the clickstream at max(event_date) - evalDays.
// Rows on or before the threshold train; later rows become evaluation
// pairs once they are reduced to new contact relations between cookies
// and nodes both seen in training.
func Preprocess(ds *Dataset, evalDays int) (*Split, error) {
	if len(ds.Clickstream) == 0 {
		return nil, ErrEmptyDataset
	}

	maxDate := ds.Clickstream[0].EventDate
	for _, row := range ds.Clickstream[1:] {
		if row.EventDate.After(maxDate) {
			maxDate = row.EventDate
		}
	}
	threshold := maxDate.Add(-time.Duration(evalDays) * 24 * time.Hour)

	split := &Split{Threshold: threshold}
	trainPairs := make(map[Pair]bool)
	trainCookies := make(map[int64]bool)
	trainNodes := make(map[int64]bool)

	var later []Interaction
	for _, row := range ds.Clickstream {
		if row.EventDate.After(threshold) {
			later = append(later, row)
			continue
		}
		split.Train = append(split.Train, row)
		trainPairs[Pair{Cookie: row.Cookie, Node: row.Node}] = true
		trainCookies[row.Cookie] = true
		trainNodes[row.Node] = true
	}

	seen := make(map[Pair]bool)
	for _, row := range later {
		pair := Pair{Cookie: row.Cookie, Node: row.Node}
		switch {
		case trainPairs[pair]:
		case !ds.ContactEvents[row.Event]:
		case !trainCookies[row.Cookie]:
		case !trainNodes[row.Node]:
		case seen[pair]:
		default:
			seen[pair] = true
			split.Eval = append(split.Eval, pair)
		}
	}

	return split, nil
}
