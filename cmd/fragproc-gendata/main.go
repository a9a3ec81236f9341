// Package main provides a synthetic delimited-file generator for
// exercising the fragment processor, adapted from the teacher's
// ddb-datagen: same randomString/randomNumber/seed idiom, generalized
// from random DynamoDB item attributes to random semicolon-delimited
// lines shaped for the validator (section 4.1), with an injectable
// invalid-line rate for exercising mixed-error and fail-fast runs.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
)

// Config holds the command-line configuration for the data generator.
type Config struct {
	OutPath        string
	NumLines       int
	MinColumnCount int
	CurrencyOffset int
	ProvinceOffset int
	ProductOffset  int
	InvalidRate    float64 // fraction of lines deliberately malformed
	Seed           int64
}

var currencies = []string{"USD", "CAD", "EUR", "GBP"}
var provinces = []string{"ON", "QC", "BC", "AB", "CA"}
var products = []string{"WIDGET", "GADGET", "GIZMO", "DOOHICKEY"}

func randomString(r *rand.Rand, n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

func randomNumber(r *rand.Rand, min, max int) int {
	return min + r.Intn(max-min+1)
}

// randomValidLine builds a line of cfg.MinColumnCount columns followed
// by one trailing "line<N>" column, placing a reference-data member at
// each offset the validator checks and filler text everywhere else.
func randomValidLine(r *rand.Rand, cfg Config, lineNum int) string {
	cols := make([]string, cfg.MinColumnCount)
	for i := range cols {
		cols[i] = randomString(r, randomNumber(r, 3, 10))
	}
	if cfg.CurrencyOffset < len(cols) {
		cols[cfg.CurrencyOffset] = currencies[r.Intn(len(currencies))]
	}
	if cfg.ProvinceOffset < len(cols) {
		cols[cfg.ProvinceOffset] = provinces[r.Intn(len(provinces))]
	}
	if cfg.ProductOffset < len(cols) {
		cols[cfg.ProductOffset] = products[r.Intn(len(products))]
	}
	return fmt.Sprintf("%s;line%d", strings.Join(cols, ";"), lineNum)
}

// randomInvalidLine builds a line that fails validation, alternating
// between "too few columns" and "unknown reference value" so a
// generated file exercises both error paths.
func randomInvalidLine(r *rand.Rand, cfg Config, lineNum int) string {
	if lineNum%2 == 0 {
		// At most MinColumnCount-2 filler columns: with the trailing
		// "line<N>" column the total stays below MinColumnCount.
		shortCols := make([]string, randomNumber(r, 0, max(cfg.MinColumnCount-2, 0)))
		for i := range shortCols {
			shortCols[i] = randomString(r, 5)
		}
		return fmt.Sprintf("%s;line%d", strings.Join(shortCols, ";"), lineNum)
	}
	line := randomValidLine(r, cfg, lineNum)
	cols := strings.Split(line, ";")
	if cfg.CurrencyOffset < len(cols) {
		cols[cfg.CurrencyOffset] = "ZZZ"
	}
	return strings.Join(cols, ";")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func run(cfg Config) error {
	var out *os.File
	if cfg.OutPath == "" || cfg.OutPath == "-" {
		out = os.Stdout
	} else {
		f, err := os.Create(cfg.OutPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	defer w.Flush()

	seed := cfg.Seed
	if seed == 0 {
		seed = int64(os.Getpid())
	}
	r := rand.New(rand.NewSource(seed))

	for i := 1; i <= cfg.NumLines; i++ {
		var line string
		if r.Float64() < cfg.InvalidRate {
			line = randomInvalidLine(r, cfg, i)
		} else {
			line = randomValidLine(r, cfg, i)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("writing line %d: %w", i, err)
		}
	}
	return nil
}

func main() {
	cfg := Config{}

	flag.StringVar(&cfg.OutPath, "out", "-", "output file path ('-' for stdout)")
	flag.IntVar(&cfg.NumLines, "lines", 1000, "number of lines to generate")
	flag.IntVar(&cfg.MinColumnCount, "min-columns", 12, "columns per valid line before the trailing line-number column, matching MIN_COLUMN_COUNT")
	flag.IntVar(&cfg.CurrencyOffset, "currency-offset", 3, "column index of the currency field")
	flag.IntVar(&cfg.ProvinceOffset, "province-offset", 10, "column index of the province field")
	flag.IntVar(&cfg.ProductOffset, "product-offset", 11, "column index of the product field")
	flag.Float64Var(&cfg.InvalidRate, "invalid-rate", 0, "fraction of lines to deliberately malform, e.g. 0.02")
	flag.Int64Var(&cfg.Seed, "seed", 0, "random seed (0 = pid-based)")
	flag.Parse()

	if err := run(cfg); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
}
