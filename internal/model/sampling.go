package model

import (
	"math"
	"math/rand"
)

// StratifiedSplit partitions samples into train and validation sets, keeping
// the label ratio of each class in both splits. Order within each split is
// shuffled with the given seed so repeated runs are reproducible.
func StratifiedSplit(X [][]float64, y []int, valFrac float64, seed int64) (trainX [][]float64, trainY []int, valX [][]float64, valY []int) {
	rng := rand.New(rand.NewSource(seed))

	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}

	for _, idx := range [2][]int{byClass[0], byClass[1]} {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nVal := int(math.Round(float64(len(idx)) * valFrac))
		// Keep at least one sample of a represented class on each side when
		// the class has enough members to allow it.
		if nVal == len(idx) && len(idx) > 1 {
			nVal--
		}
		for k, i := range idx {
			if k < nVal {
				valX = append(valX, X[i])
				valY = append(valY, y[i])
			} else {
				trainX = append(trainX, X[i])
				trainY = append(trainY, y[i])
			}
		}
	}
	return trainX, trainY, valX, valY
}

// Oversample rebalances a binary training set by synthesizing minority-class
// samples: each synthetic row is a random interpolation between a minority
// sample and another randomly chosen minority sample. Applied to the
// training split only, never to held-out validation data. Returns the input
// unchanged when a class is absent or the set is already balanced.
func Oversample(X [][]float64, y []int, seed int64) ([][]float64, []int) {
	var minority, majority []int
	for i, label := range y {
		if label == 1 {
			minority = append(minority, i)
		} else {
			majority = append(majority, i)
		}
	}
	if len(minority) > len(majority) {
		minority, majority = majority, minority
	}
	if len(minority) == 0 || len(minority) == len(majority) {
		return X, y
	}

	rng := rand.New(rand.NewSource(seed))
	outX := append([][]float64(nil), X...)
	outY := append([]int(nil), y...)
	label := y[minority[0]]

	for n := len(majority) - len(minority); n > 0; n-- {
		a := X[minority[rng.Intn(len(minority))]]
		b := X[minority[rng.Intn(len(minority))]]
		t := rng.Float64()
		row := make([]float64, len(a))
		for j := range row {
			row[j] = a[j] + t*(b[j]-a[j])
		}
		outX = append(outX, row)
		outY = append(outY, label)
	}
	return outX, outY
}
