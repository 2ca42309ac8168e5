package cli

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/BJS-Innovation-Lab/mnemo/internal/config"
	"github.com/BJS-Innovation-Lab/mnemo/internal/embed"
	"github.com/BJS-Innovation-Lab/mnemo/internal/engine"
	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

// loadConfig reads ~/.mnemo/config.yaml if present, falling back to defaults.
func loadConfig() (config.Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return config.Default(), nil
	}
	return config.Load(filepath.Join(home, ".mnemo", "config.yaml"))
}

// openEngine opens the database and builds an engine with the best
// available embedder: Ollama when reachable, TF-IDF over the stored corpus
// otherwise.
func openEngine(cfg config.Config) (*engine.Engine, *store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	embedder, err := detectEmbedder(cfg, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	eng, err := engine.New(db, embedder, rng)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return eng, db, nil
}

func detectEmbedder(cfg config.Config, db *store.DB) (embed.Embedder, error) {
	if embed.ProbeOllama(cfg.Embedding.OllamaURL, cfg.Embedding.Model) {
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", cfg.Embedding.Model)
		return embed.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model, cfg.Embedding.Dimensions), nil
	}

	docs, err := storedCorpus(db)
	if err != nil {
		return nil, fmt.Errorf("build tfidf corpus: %w", err)
	}
	fmt.Fprintf(os.Stderr, "  embedder: tfidf (fallback, %d docs)\n", len(docs))
	return embed.NewTFIDFEmbedder(docs, 512), nil
}

// storedCorpus collects entry texts and chunk contents for TF-IDF training.
func storedCorpus(db *store.DB) ([]string, error) {
	var docs []string

	entries, err := db.ListEntries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Text != "" {
			docs = append(docs, e.Text)
		}
	}

	chunks, err := db.ListChunks()
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.Content != "" {
			docs = append(docs, c.Content)
		}
	}
	return docs, nil
}
