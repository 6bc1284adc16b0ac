//go:build ignore

// generate-test-corpus writes a synthetic multi-scope document tree for
// exercising sync and search by hand.
// Usage: go run scripts/generate-test-corpus.go -docs 500 -output testdata/corpus
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numDocs   = flag.Int("docs", 500, "Number of documents to generate")
	numScopes = flag.Int("scopes", 3, "Number of scope directories")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var topics = []string{
	"database failover", "credential rotation", "backup verification",
	"incident escalation", "capacity planning", "certificate renewal",
	"log retention", "schema migration", "cache invalidation",
	"deployment rollback", "rate limiting", "queue draining",
}

var sentences = []string{
	"The %s procedure runs during the weekly maintenance window.",
	"Operators verify %s before promoting changes to production.",
	"Alerts for %s page the on-call engineer after two failures.",
	"The runbook for %s lists each command with its expected output.",
	"Quarterly audits confirm that %s matches the documented policy.",
	"A dry run of %s happens in staging the day before rollout.",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	for i := 0; i < *numDocs; i++ {
		scope := fmt.Sprintf("scope-%d", i%*numScopes)
		topic := topics[rng.Intn(len(topics))]

		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", strings.Title(topic))
		paragraphs := 2 + rng.Intn(6)
		for p := 0; p < paragraphs; p++ {
			fmt.Fprintf(&b, "## %s, part %d\n\n", strings.Title(topic), p+1)
			lines := 3 + rng.Intn(4)
			for l := 0; l < lines; l++ {
				fmt.Fprintf(&b, sentences[rng.Intn(len(sentences))]+" ", topic)
			}
			b.WriteString("\n\n")
		}

		path := filepath.Join(*outputDir, scope, fmt.Sprintf("doc-%04d.md", i))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generated %d documents across %d scopes in %s\n", *numDocs, *numScopes, *outputDir)
}
