package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// Watchlist is the separate pair document the bot trades by default.
// It is mandatory: a missing or empty file halts startup.
type Watchlist struct {
	Basket []string `yaml:"basket"`
}

func LoadWatchlist(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("watchlist path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Watchlist
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Basket) == 0 {
		return nil, errors.New("watchlist basket must not be empty")
	}
	return doc.Basket, nil
}
